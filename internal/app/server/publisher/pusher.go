package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	pusher "github.com/pusher/pusher-http-go/v5"
)

// maxPusherData is the largest encoded event data the Pusher API accepts.
const maxPusherData = 10 << 10

// PusherConfig holds the channel-provider credentials.
type PusherConfig struct {
	AppID   string
	Key     string
	Secret  string
	Cluster string
	UseTLS  bool
	// Host overrides the cluster endpoint, e.g. for a self-hosted server.
	Host    string
	Timeout time.Duration
}

// PusherTransport triggers events through the Pusher HTTP API.
type PusherTransport struct {
	client  *pusher.Client
	maxData int
}

func NewPusherTransport(cfg PusherConfig) *PusherTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PusherTransport{
		client: &pusher.Client{
			AppID:      cfg.AppID,
			Key:        cfg.Key,
			Secret:     cfg.Secret,
			Cluster:    cfg.Cluster,
			Host:       cfg.Host,
			Secure:     cfg.UseTLS,
			HTTPClient: &http.Client{Timeout: timeout},
		},
		maxData: maxPusherData,
	}
}

// Trigger sends one event, split into consecutive events when its data is
// over the Pusher size limit. The Pusher client has no context support, so
// ctx is only checked between requests.
func (p *PusherTransport) Trigger(ctx context.Context, channel, event string, payload Payload) error {
	for _, part := range splitPayload(payload, p.maxData) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.client.Trigger(channel, event, part); err != nil {
			return err
		}
	}
	return nil
}

func encodedSize(p Payload) int {
	data, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return len(data)
}

// splitPayload halves the message body until every part encodes within
// limit. Each part keeps the "<timestamp> | " prefix, so the bodies concatenate
// back to the original. Cuts fall on rune boundaries.
func splitPayload(p Payload, limit int) []Payload {
	if encodedSize(p) <= limit {
		return []Payload{p}
	}
	stamp, body, ok := strings.Cut(p.Message, separator)
	if !ok || utf8.RuneCountInString(body) < 2 {
		return []Payload{p}
	}
	prefix := stamp + separator

	mid := len(body) / 2
	for mid > 0 && !utf8.RuneStart(body[mid]) {
		mid--
	}
	if mid == 0 {
		_, mid = utf8.DecodeRuneInString(body)
	}

	return append(
		splitPayload(Payload{Message: prefix + body[:mid]}, limit),
		splitPayload(Payload{Message: prefix + body[mid:]}, limit)...,
	)
}
