package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// DefaultShutdownTimeout bounds each shutdown job.
const DefaultShutdownTimeout = 5 * time.Second

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs named jobs until the first failure or cancellation, then runs
// shutdown jobs in registration order.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Manager{logger: logger, shutdownTimeout: DefaultShutdownTimeout}
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	runJobs := m.snapshot(&m.runJobs)
	shutdownJobs := m.snapshot(&m.shutdownJobs)

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("run job failed", "job", j.name, "err", err)
				errCh <- fmt.Errorf("%s: %w", j.name, err)
				cancelRuns()
			}
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}

	<-doneCh

	var shutdownErr error
	for _, j := range shutdownJobs {
		jobCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		err := j.run(jobCtx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot(jobs *[]job) []job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job, len(*jobs))
	copy(out, *jobs)
	return out
}
