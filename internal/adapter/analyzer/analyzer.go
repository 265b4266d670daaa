// Package analyzer fans AI tool detection out over a bounded worker pool.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vibe-apps-miner/internal/domain"
	"vibe-apps-miner/internal/port"
)

const (
	defaultWorkers = 3
	defaultTimeout = 30 * time.Second
)

// Result is the detection outcome for one application.
type Result struct {
	App        domain.Application
	Detections []domain.ToolDetection
	Err        error
}

// Pool runs a detector over many applications concurrently.
type Pool struct {
	detector      port.Detector
	maxGoroutines int
	timeout       time.Duration
}

func NewPool(detector port.Detector) *Pool {
	return &Pool{
		detector:      detector,
		maxGoroutines: defaultWorkers,
		timeout:       defaultTimeout,
	}
}

// SetMaxGoroutines changes the number of workers; non-positive values are ignored.
func (p *Pool) SetMaxGoroutines(max int) {
	if max > 0 {
		p.maxGoroutines = max
	}
}

// SetTimeout bounds each application's detection; non-positive values are ignored.
func (p *Pool) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

type job struct {
	index int
	app   domain.Application
}

func (p *Pool) worker(
	ctx context.Context,
	jobs <-chan job,
	results []Result,
	errs chan<- error,
	wg *sync.WaitGroup,
	workerID int,
) {
	defer wg.Done()

	for j := range jobs {
		if ctx.Err() != nil {
			results[j.index] = Result{App: j.app, Err: ctx.Err()}
			continue
		}
		slog.Debug("detecting tools", "worker", workerID, "app", j.app.ID, "name", j.app.Name)

		jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
		found, err := p.detector.Detect(jobCtx, j.app)
		cancel()

		if err != nil {
			slog.Warn("tool detection failed", "worker", workerID, "app", j.app.ID, "err", err)
			errs <- fmt.Errorf("detect %d (%s): %w", j.app.ID, j.app.Name, err)
		}
		results[j.index] = Result{App: j.app, Detections: found, Err: err}
	}
}

// Detect returns one Result per application, in input order. Per-application
// failures are reported in the Results; the error is only set when ctx ends
// before every application was processed.
func (p *Pool) Detect(ctx context.Context, apps []domain.Application) ([]Result, error) {
	workers := min(p.maxGoroutines, max(len(apps), 1))
	slog.Info("starting tool detection", "applications", len(apps), "workers", workers)

	jobs := make(chan job, len(apps))
	errs := make(chan error, len(apps))
	results := make([]Result, len(apps))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobs, results, errs, &wg, i+1)
	}

	for i, app := range apps {
		jobs <- job{index: i, app: app}
	}
	close(jobs)

	wg.Wait()
	if err := ctx.Err(); err != nil {
		slog.Warn("tool detection interrupted", "err", err)
		return results, err
	}

	close(errs)
	if n := len(errs); n > 0 {
		slog.Warn("tool detection finished with errors", "errors", n)
	}
	return results, nil
}
