// Package jobmgr runs named background jobs with cancellation and in-memory
// tracking. A name runs at most once at a time.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(nil)
//
//	jm.Every(ctx, "flow-analysis", 2*time.Minute, func(ctx context.Context) error {
//	    return analyzeFlow(ctx)
//	})
//
//	// later...
//	_ = jm.Stop("flow-analysis")
//	jm.Wait()
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keshon/companion/pkg/logx"
)

// ErrRunning is returned when a job of the same name is already running.
var ErrRunning = errors.New("jobmgr: job already running")

// ErrNotRunning is returned by Stop for unknown names.
var ErrNotRunning = errors.New("jobmgr: job not running")

// Job represents a running unit of work.
// Jobs are added and removed by Manager automatically.
type Job struct {
	Name    string
	Started time.Time
	Cancel  context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs.
// Example messages:
//
//	running:flow
//	error:flow:context deadline exceeded
//	done:flow
type StatusReporter func(string)

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	wg       sync.WaitGroup
	Reporter StatusReporter
}

// NewManager creates a new Manager. A nil reporter logs through logx.
func NewManager(reporter StatusReporter) *Manager {
	if reporter == nil {
		log := logx.With("jobmgr")
		reporter = func(s string) {
			if strings.HasPrefix(s, "error:") {
				log.Error().Msg(s)
				return
			}
			log.Debug().Msg(s)
		}
	}
	return &Manager{
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

func (m *Manager) claim(parent context.Context, name string) (context.Context, *Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunning, name)
	}
	ctx, cancel := context.WithCancel(parent)
	job := &Job{Name: name, Started: time.Now(), Cancel: cancel}
	m.jobs[name] = job
	return ctx, job, nil
}

// release removes job unless Stop already replaced or removed it.
func (m *Manager) release(job *Job) {
	job.Cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[job.Name] == job {
		delete(m.jobs, job.Name)
	}
}

// TryRun runs the job in the current goroutine unless one of the same name is
// running, in which case it returns ErrRunning without calling runner.
func (m *Manager) TryRun(ctx context.Context, name string, runner func(ctx context.Context) error) error {
	jctx, job, err := m.claim(ctx, name)
	if err != nil {
		return err
	}
	defer m.release(job)
	return m.run(jctx, name, runner)
}

// StartAsync runs a job in a separate goroutine and returns immediately.
// Jobs are removed automatically after completion (success or failure).
func (m *Manager) StartAsync(ctx context.Context, name string, runner func(ctx context.Context) error) error {
	jctx, job, err := m.claim(ctx, name)
	if err != nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(job)
		_ = m.run(jctx, name, runner)
	}()
	return nil
}

// Every starts a job that calls runner on each tick of interval until ctx is
// done or the job is stopped. Ticks that overlap a slow run are skipped.
func (m *Manager) Every(ctx context.Context, name string, interval time.Duration, runner func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("jobmgr: invalid interval %v for %s", interval, name)
	}
	return m.StartAsync(ctx, name, func(ctx context.Context) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				_ = m.TryRun(ctx, name+":tick", runner)
			}
		}
	})
}

func (m *Manager) run(ctx context.Context, name string, runner func(ctx context.Context) error) (err error) {
	m.report("running:" + name)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			m.report("error:" + name + ":" + err.Error())
		} else {
			m.report("done:" + name)
		}
	}()
	return runner(ctx)
}

// Stop cancels a running job by name.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	job.Cancel()
	delete(m.jobs, name)
	return nil
}

// Wait blocks until every async job has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
// Example:
//
//	"Running jobs: emotion, flow"
//
// If none are running: "No jobs are running."
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// report delivers lifecycle messages to the reporter if present.
func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
