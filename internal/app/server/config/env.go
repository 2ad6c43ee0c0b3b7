package config

import (
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides values from the environment. Credential names keep
// the casing the deployment scripts already export.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	errs := &Error{}

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs.add("%s: %q is not a boolean", name, v)
			return
		}
		*dst = parsed
	}
	duration := func(name string, dst *Duration) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs.add("%s: %q is not a duration", name, v)
			return
		}
		dst.Duration = parsed
	}

	str("PORT", &c.Port)
	str("cid", &c.ClientID)
	str("appId", &c.Pusher.AppID)
	str("key", &c.Pusher.Key)
	str("secret", &c.Pusher.Secret)
	str("cluster", &c.Pusher.Cluster)
	boolean("useTLS", &c.Pusher.UseTLS)
	str("PUSHER_HOST", &c.Pusher.Host)

	str("LOG_DIR", &c.LogDir)
	str("TRANSPORT", &c.Transport)
	str("DISK_PATH", &c.DiskPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	boolean("LOG_TO_FILE", &c.LogToFile)
	boolean("HEAD_OF_LINE", &c.HeadOfLine)
	duration("OUTAGE_DURATION", &c.OutageDuration)
	duration("METRICS_INTERVAL", &c.MetricsInterval)
	duration("PING_INTERVAL", &c.PingInterval)

	if v, ok := lookup("MEMORY_CEILING_MB"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MemoryCeilingMB = n
		} else {
			errs.add("MEMORY_CEILING_MB: %q is not an integer", v)
		}
	}

	return errs.orNil()
}
