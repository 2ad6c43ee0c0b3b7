package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hobrus/dashify.git/internal/app/server/config"
	"github.com/Hobrus/dashify.git/internal/app/server/publisher"
	"github.com/Hobrus/dashify.git/internal/pkg/buildinfo"
	"github.com/Hobrus/dashify.git/internal/pkg/logging"
)

func TestVersionCommand(t *testing.T) {
	buildinfo.Version = "v1.2.3"
	buildinfo.Date = ""
	buildinfo.Commit = "abcdef1"
	t.Cleanup(func() { buildinfo.Version, buildinfo.Commit = "", "" })

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Build version: v1.2.3")
	assert.Contains(t, out.String(), "Build date: N/A")
	assert.Contains(t, out.String(), "Build commit: abcdef1")
}

func TestServe_InvalidConfig(t *testing.T) {
	for _, name := range []string{"PORT", "cid", "appId", "key", "secret", "cluster", "CONFIG", "TRANSPORT"} {
		t.Setenv(name, "")
	}

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--transport", "websocket"})
	err := cmd.Execute()

	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Contains(t, cfgErr.Problems, "port is required")
	assert.Contains(t, cfgErr.Problems, "cid is required")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Port = "0"
	cfg.ClientID = "7"
	cfg.Transport = config.TransportWebsocket
	cfg.LogDir = t.TempDir()
	cfg.TailRetryDelay = config.Duration{Duration: 20 * time.Millisecond}
	cfg.TailPollInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.MetricsInterval = config.Duration{Duration: time.Hour}
	cfg.PingInterval = config.Duration{Duration: time.Hour}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_StreamsAppendedLogLines(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := logtest.NewNullLogger()

	a, err := newApp(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
	})

	base := "127.0.0.1:" + a.server.Port()

	resp, err := http.Get("http://" + base + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "Hello World!", string(body))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+base+"/ws/logs?channel=dashify-7", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.hub.Subscribers("dashify-7") == 1 }, 2*time.Second, 10*time.Millisecond)

	path := cfg.LogFilePath()
	require.Equal(t, filepath.Join(cfg.LogDir, "server-7.log"), path)
	staging := filepath.Join(cfg.LogDir, "staging.tmp")
	require.NoError(t, os.WriteFile(staging, []byte("old line\n"), 0o600))
	require.NoError(t, os.Rename(staging, path))
	require.Eventually(t, func() bool { return a.tail.State().Watching }, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("fresh line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame struct {
			Channel string `json:"channel"`
			Event   string `json:"event"`
			Data    struct {
				Message string `json:"message"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		if !strings.Contains(frame.Data.Message, "line") {
			continue
		}

		assert.Equal(t, "dashify-7", frame.Channel)
		assert.Equal(t, "logs", frame.Event)
		assert.True(t, strings.HasSuffix(frame.Data.Message, " | fresh line\n"), frame.Data.Message)
		assert.NotContains(t, frame.Data.Message, "old line")
		break
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	logger, hook := logtest.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if strings.HasPrefix(e.Message, "Server is listening on port") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Equal(t, "Server stopped gracefully", hook.LastEntry().Message)
}

type rejectingTransport struct {
	mu       sync.Mutex
	messages []string
}

func (r *rejectingTransport) Trigger(_ context.Context, _, _ string, payload publisher.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, payload.Message)
	return errors.New("Status Code: 401 - invalid key")
}

func (r *rejectingTransport) saw(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if strings.Contains(m, text) {
			return true
		}
	}
	return false
}

func TestApp_TeedLogStaysBoundedWhenDeliveryFails(t *testing.T) {
	cfg := testConfig(t)
	logger, closeLog, err := logging.New(logging.Options{TeeFile: cfg.LogFilePath(), Stdout: io.Discard})
	require.NoError(t, err)
	t.Cleanup(closeLog)

	transport := &rejectingTransport{}
	a, err := newApp(cfg, logger, withTransport(transport))
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.shutdown(ctx)
	})
	require.Eventually(t, func() bool { return a.tail.State().Watching }, 2*time.Second, 10*time.Millisecond)

	logger.Info("one request")
	require.Eventually(t, func() bool { return transport.saw("one request") }, 2*time.Second, 10*time.Millisecond)

	size := func() int64 {
		info, err := os.Stat(cfg.LogFilePath())
		require.NoError(t, err)
		return info.Size()
	}
	settled := size()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, settled, size(), "delivery failures must not grow the tailed file")
	assert.Less(t, settled, int64(4096))
}
