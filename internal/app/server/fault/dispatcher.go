// Package fault maps fault scenarios to simulator runs, process lifecycle
// actions and the log events that announce them.
package fault

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hobrus/dashify.git/internal/app/server/lifecycle"
	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
	"github.com/Hobrus/dashify.git/internal/app/server/publisher"
	"github.com/Hobrus/dashify.git/internal/app/server/simulate"
)

// Scenario names one kind of injected fault.
type Scenario string

const (
	CPUBurn         Scenario = "cpu-burn"
	MemorySpike     Scenario = "memory-spike"
	RandomError     Scenario = "random-error"
	ProcessExit     Scenario = "process-exit"
	TemporaryOutage Scenario = "temporary-outage"
)

// Scenarios lists every supported scenario.
var Scenarios = []Scenario{CPUBurn, MemorySpike, RandomError, ProcessExit, TemporaryOutage}

var (
	ErrSimulated       = errors.New("simulated error")
	ErrUnknownScenario = errors.New("unknown scenario")
)

// ParseScenario validates a scenario name.
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScenario, name)
}

// Result is the response a scenario produces.
type Result struct {
	Status int
	Body   string
}

// Listener is the part of the HTTP server an outage needs.
type Listener interface {
	Suspend(d time.Duration, onDown, onUp func()) error
	Port() string
}

// Config holds scenario parameters.
type Config struct {
	Channel        string
	CPUIterations  int
	MemoryFraction float64
	OutageDuration time.Duration
	// ExitFlushTimeout bounds how long process-exit waits for its
	// announcement to leave the publisher queue.
	ExitFlushTimeout time.Duration
}

const defaultExitFlushTimeout = 2 * time.Second

// Dispatcher runs scenarios.
type Dispatcher struct {
	cfg      Config
	pub      publisher.Publisher
	reg      *metrics.Registry
	logger   *logrus.Logger
	spiker   *simulate.MemorySpiker
	listener Listener

	exit   func(code int)
	random func() float64
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithExit replaces the process exit function.
func WithExit(exit func(code int)) Option {
	return func(d *Dispatcher) { d.exit = exit }
}

// WithRandom replaces the source of the random-error coin.
func WithRandom(random func() float64) Option {
	return func(d *Dispatcher) { d.random = random }
}

func New(
	cfg Config,
	pub publisher.Publisher,
	reg *metrics.Registry,
	logger *logrus.Logger,
	spiker *simulate.MemorySpiker,
	listener Listener,
	opts ...Option,
) *Dispatcher {
	if cfg.CPUIterations <= 0 {
		cfg.CPUIterations = simulate.DefaultCPUIterations
	}
	if cfg.MemoryFraction <= 0 {
		cfg.MemoryFraction = 0.8
	}
	if cfg.ExitFlushTimeout <= 0 {
		cfg.ExitFlushTimeout = defaultExitFlushTimeout
	}
	d := &Dispatcher{
		cfg:      cfg,
		pub:      pub,
		reg:      reg,
		logger:   logger,
		spiker:   spiker,
		listener: listener,
		exit:     os.Exit,
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) announce(message string) {
	d.pub.Publish(d.cfg.Channel, publisher.EventLogs, message)
}

// Dispatch runs the scenario synchronously. CPU and memory scenarios block
// for the whole simulated pressure; process-exit does not return in
// production.
func (d *Dispatcher) Dispatch(s Scenario) (Result, error) {
	if _, err := ParseScenario(string(s)); err != nil {
		return Result{}, err
	}
	d.reg.MustIncrement(metrics.FaultsInjectedTotal, map[string]string{"scenario": string(s)}, 1)

	switch s {
	case CPUBurn:
		return d.cpuBurn(), nil
	case MemorySpike:
		return d.memorySpike()
	case RandomError:
		return d.randomError()
	case ProcessExit:
		return d.processExit(), nil
	default:
		return d.temporaryOutage()
	}
}

func (d *Dispatcher) cpuBurn() Result {
	d.announce("Simulating work on high-cpu...")
	start := time.Now()
	result := simulate.BurnCPU(d.cfg.CPUIterations)
	d.logger.WithFields(logrus.Fields{
		"iterations": d.cfg.CPUIterations,
		"duration":   time.Since(start),
	}).Info("CPU burn finished")
	return Result{Status: http.StatusOK, Body: "Result is " + strconv.FormatFloat(result, 'f', -1, 64)}
}

func (d *Dispatcher) memorySpike() (Result, error) {
	d.announce("Simulating work on high-memory...")
	report, err := d.spiker.Spike(d.cfg.MemoryFraction)
	if err != nil {
		return Result{}, fmt.Errorf("memory spike: %w", err)
	}
	percent := int(d.cfg.MemoryFraction * 100)
	d.logger.WithFields(logrus.Fields{
		"ceiling":   report.Ceiling,
		"target":    report.Target,
		"allocated": report.Allocated,
		"blocks":    report.Blocks,
	}).Infof("Memory spiked to approximately %d%%.", percent)
	return Result{Status: http.StatusOK, Body: fmt.Sprintf("Memory spiked to approximately %d%%", percent)}, nil
}

func (d *Dispatcher) randomError() (Result, error) {
	if d.random() > 0.5 {
		d.announce("Simulated error")
		return Result{}, ErrSimulated
	}
	return Result{Status: http.StatusOK, Body: "Hello World!"}, nil
}

// processExit skips every cleanup except a bounded wait for its own
// announcement, which is the signal the scenario exists to produce.
func (d *Dispatcher) processExit() Result {
	d.announce("Simulating system failure...")
	if f, ok := d.pub.(publisher.Flusher); ok {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ExitFlushTimeout)
		if err := f.Flush(ctx); err != nil {
			d.logger.WithError(err).Warn("Failure announcement may not have been delivered")
		}
		cancel()
	}
	d.logger.Error("Simulating system failure, exiting")
	d.exit(1)
	return Result{}
}

func (d *Dispatcher) temporaryOutage() (Result, error) {
	port := d.listener.Port()
	err := d.listener.Suspend(d.cfg.OutageDuration,
		func() { d.announce("Server is going down...") },
		func() { d.announce("Server is back up on port " + port) },
	)
	if errors.Is(err, lifecycle.ErrOutageInProgress) {
		return Result{Status: http.StatusConflict, Body: "Server is already down for maintenance"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("suspend listener: %w", err)
	}
	return Result{Status: http.StatusOK, Body: "Server going down for maintenance"}, nil
}
