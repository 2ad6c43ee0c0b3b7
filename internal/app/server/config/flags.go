package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags declares the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "path to a TOML config file")
	fs.StringP("port", "p", "", "HTTP listen port")
	fs.String("cid", "", "client id used for the log file and channel name")
	fs.String("log-dir", d.LogDir, "directory holding server-<cid>.log")
	fs.String("transport", d.Transport, "log transport: pusher, websocket or both")
	fs.Bool("head-of-line", d.HeadOfLine, "serialize requests, timers and tailer reads")
	fs.Duration("metrics-interval", d.MetricsInterval.Duration, "disk and heap refresh interval")
	fs.Duration("ping-interval", d.PingInterval.Duration, "liveness announcement interval")
	fs.Duration("outage-duration", d.OutageDuration.Duration, "how long /downtime keeps the listener closed")
	fs.Int("memory-ceiling-mb", d.MemoryCeilingMB, "memory ceiling for /high-memory, 0 uses GOMEMLIMIT")
	fs.String("log-level", d.LogLevel, "log level")
	fs.String("log-format", d.LogFormat, "log format: json or text")
	fs.Bool("log-to-file", d.LogToFile, "also write process logs to the watched log file")
}

// applyFlags copies only the flags set on the command line.
func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || fs.Lookup(name) == nil || !fs.Changed(name) {
			return
		}
		err = apply()
	}

	set("port", func() (e error) { c.Port, e = fs.GetString("port"); return })
	set("cid", func() (e error) { c.ClientID, e = fs.GetString("cid"); return })
	set("log-dir", func() (e error) { c.LogDir, e = fs.GetString("log-dir"); return })
	set("transport", func() (e error) { c.Transport, e = fs.GetString("transport"); return })
	set("head-of-line", func() (e error) { c.HeadOfLine, e = fs.GetBool("head-of-line"); return })
	set("metrics-interval", func() (e error) { c.MetricsInterval.Duration, e = fs.GetDuration("metrics-interval"); return })
	set("ping-interval", func() (e error) { c.PingInterval.Duration, e = fs.GetDuration("ping-interval"); return })
	set("outage-duration", func() (e error) { c.OutageDuration.Duration, e = fs.GetDuration("outage-duration"); return })
	set("memory-ceiling-mb", func() (e error) { c.MemoryCeilingMB, e = fs.GetInt("memory-ceiling-mb"); return })
	set("log-level", func() (e error) { c.LogLevel, e = fs.GetString("log-level"); return })
	set("log-format", func() (e error) { c.LogFormat, e = fs.GetString("log-format"); return })
	set("log-to-file", func() (e error) { c.LogToFile, e = fs.GetBool("log-to-file"); return })

	return err
}
