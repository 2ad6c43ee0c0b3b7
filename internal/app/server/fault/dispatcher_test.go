package fault

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hobrus/dashify.git/internal/app/server/lifecycle"
	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
	"github.com/Hobrus/dashify.git/internal/app/server/publisher"
	"github.com/Hobrus/dashify.git/internal/app/server/simulate"
	"github.com/Hobrus/dashify.git/internal/pkg/testutil"
)

type fakeListener struct {
	mu       sync.Mutex
	down     bool
	duration time.Duration
	onUp     func()
}

func (f *fakeListener) Suspend(d time.Duration, onDown, onUp func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return lifecycle.ErrOutageInProgress
	}
	f.down = true
	f.duration = d
	f.onUp = onUp
	onDown()
	return nil
}

func (f *fakeListener) Port() string { return "8080" }

type fixture struct {
	d        *Dispatcher
	rec      *testutil.Recorder
	reg      *metrics.Registry
	listener *fakeListener
	exitCode int
	exited   bool
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{rec: &testutil.Recorder{}, listener: &fakeListener{}}
	f.reg = metrics.NewRegistry(metrics.WithoutDefaultCollectors())
	require.NoError(t, metrics.RegisterServerMetrics(f.reg))
	logger, _ := logtest.NewNullLogger()

	spiker := &simulate.MemorySpiker{
		Ceiling:   func() (uint64, error) { return 8 << 20, nil },
		Used:      func() uint64 { return 0 },
		BlockSize: 64 << 10,
	}
	opts = append([]Option{WithExit(func(code int) { f.exited, f.exitCode = true, code })}, opts...)
	f.d = New(Config{
		Channel:        "dashify-1",
		CPUIterations:  50,
		OutageDuration: 3 * time.Minute,
	}, f.rec, f.reg, logger, spiker, f.listener, opts...)
	return f
}

func (f *fixture) faults(t *testing.T, s Scenario) float64 {
	t.Helper()
	snap, err := f.reg.Snapshot()
	require.NoError(t, err)
	sample, _ := metrics.Lookup(snap, metrics.FaultsInjectedTotal, map[string]string{"scenario": string(s)})
	return sample.Value
}

func TestParseScenario(t *testing.T) {
	for _, s := range Scenarios {
		got, err := ParseScenario(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseScenario("meteor-strike")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}

func TestDispatch_CPUBurn(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Dispatch(CPUBurn)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, strings.HasPrefix(res.Body, "Result is "))
	assert.Equal(t, []string{"Simulating work on high-cpu..."}, f.rec.Messages())
	assert.Equal(t, "dashify-1", f.rec.Calls()[0].Channel)
	assert.Equal(t, publisher.EventLogs, f.rec.Calls()[0].Event)
	assert.Equal(t, 1.0, f.faults(t, CPUBurn))
}

func TestDispatch_MemorySpike(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Dispatch(MemorySpike)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Memory spiked to approximately 80%", res.Body)
	assert.Equal(t, []string{"Simulating work on high-memory..."}, f.rec.Messages())
}

func TestDispatch_MemorySpikeFailure(t *testing.T) {
	f := newFixture(t)
	f.d.spiker.Ceiling = func() (uint64, error) { return 0, errors.New("no meminfo") }

	_, err := f.d.Dispatch(MemorySpike)
	assert.Error(t, err)
}

func TestDispatch_RandomErrorBranches(t *testing.T) {
	f := newFixture(t, WithRandom(func() float64 { return 0.9 }))
	_, err := f.d.Dispatch(RandomError)
	assert.ErrorIs(t, err, ErrSimulated)
	assert.Equal(t, []string{"Simulated error"}, f.rec.Messages())

	f = newFixture(t, WithRandom(func() float64 { return 0.1 }))
	res, err := f.d.Dispatch(RandomError)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", res.Body)
	assert.Empty(t, f.rec.Messages())
}

func TestDispatch_RandomErrorRate(t *testing.T) {
	r := rand.New(rand.NewPCG(2024, 7))
	f := newFixture(t, WithRandom(r.Float64))

	const n = 1000
	failures := 0
	for i := 0; i < n; i++ {
		if _, err := f.d.Dispatch(RandomError); err != nil {
			failures++
		}
	}
	rate := float64(failures) / n
	assert.GreaterOrEqual(t, rate, 0.45)
	assert.LessOrEqual(t, rate, 0.55)
	assert.Equal(t, float64(n), f.faults(t, RandomError))
}

func TestDispatch_ProcessExit(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Dispatch(ProcessExit)
	require.NoError(t, err)
	assert.True(t, f.exited)
	assert.Equal(t, 1, f.exitCode)
	assert.Equal(t, []string{"Simulating system failure..."}, f.rec.Messages())
}

type flushingRecorder struct {
	testutil.Recorder
	flushedBefore int
	deadline      time.Duration
	err           error
}

func (r *flushingRecorder) Flush(ctx context.Context) error {
	r.flushedBefore = len(r.Messages())
	if dl, ok := ctx.Deadline(); ok {
		r.deadline = time.Until(dl)
	}
	return r.err
}

func TestDispatch_ProcessExitFlushesAnnouncement(t *testing.T) {
	rec := &flushingRecorder{}
	var exited bool
	reg := metrics.NewRegistry(metrics.WithoutDefaultCollectors())
	require.NoError(t, metrics.RegisterServerMetrics(reg))
	logger, hook := logtest.NewNullLogger()

	d := New(Config{Channel: "dashify-1", ExitFlushTimeout: 500 * time.Millisecond},
		rec, reg, logger, nil, &fakeListener{},
		WithExit(func(int) { exited = true }))

	_, err := d.Dispatch(ProcessExit)
	require.NoError(t, err)
	assert.True(t, exited)
	assert.Equal(t, 1, rec.flushedBefore, "flush runs after the announcement is queued")
	assert.Greater(t, rec.deadline, time.Duration(0))
	assert.LessOrEqual(t, rec.deadline, 500*time.Millisecond)

	rec.err = context.DeadlineExceeded
	exited = false
	_, err = d.Dispatch(ProcessExit)
	require.NoError(t, err)
	assert.True(t, exited, "a slow flush never prevents the exit")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Failure announcement may not have been delivered" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestDispatch_TemporaryOutage(t *testing.T) {
	f := newFixture(t)

	res, err := f.d.Dispatch(TemporaryOutage)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Server going down for maintenance", res.Body)
	assert.Equal(t, 3*time.Minute, f.listener.duration)
	assert.Equal(t, []string{"Server is going down..."}, f.rec.Messages())

	res, err = f.d.Dispatch(TemporaryOutage)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, res.Status)

	f.listener.onUp()
	assert.Equal(t, []string{"Server is going down...", "Server is back up on port 8080"}, f.rec.Messages())
}

func TestDispatch_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Dispatch(Scenario("flood"))
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
