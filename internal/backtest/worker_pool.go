package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/risk"
	"github.com/ducminhle1904/hft-trading-engine/internal/strategy"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// WorkerPool runs independent backtests in parallel. Every job builds its own
// pipeline, so jobs share nothing but the read-only market data.
type WorkerPool struct {
	workerCount int
	jobQueue    chan Job
	resultQueue chan JobResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	log         *logger.Logger
}

// Job is one backtest scenario.
type Job struct {
	ID         string
	Name       string
	Config     Config
	Limits     risk.Limits
	Strategies []strategy.Config
	Data       map[string][]types.OHLCV
}

// JobResult is the outcome of a Job.
type JobResult struct {
	ID       string
	Name     string
	Results  *Results
	Duration time.Duration
	Err      error
}

// NewWorkerPool creates a pool. A non-positive workerCount uses one worker
// per CPU.
func NewWorkerPool(ctx context.Context, workerCount, jobBufferSize int, log *logger.Logger) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		workerCount: workerCount,
		jobQueue:    make(chan Job, jobBufferSize),
		resultQueue: make(chan JobResult, jobBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for the workers and closes the results.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// SubmitJob queues a job, blocking while the queue is full.
func (wp *WorkerPool) SubmitJob(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	}
}

// Results returns the channel completed jobs are delivered on.
func (wp *WorkerPool) Results() <-chan JobResult {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}

			result := wp.processJob(job)
			wp.log.Debug("worker %d finished job %s in %s", workerID, job.ID, result.Duration)

			select {
			case wp.resultQueue <- result:
			case <-wp.ctx.Done():
				return
			}

		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job Job) JobResult {
	start := time.Now()
	result := JobResult{ID: job.ID, Name: job.Name}

	runner, err := NewRunner(job.Config, job.Limits, job.Strategies, wp.log.With("job", job.ID))
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	result.Results, result.Err = runner.Run(wp.ctx, job.Data)
	result.Duration = time.Since(start)
	return result
}

// Scenario is a named strategy set evaluated against shared data.
type Scenario struct {
	Name       string
	Strategies []strategy.Config
}

// RunScenarios evaluates every scenario on the same data in parallel and
// returns the results in scenario order.
func RunScenarios(ctx context.Context, cfg Config, limits risk.Limits, scenarios []Scenario, data map[string][]types.OHLCV, workers int, log *logger.Logger) []JobResult {
	wp := NewWorkerPool(ctx, workers, len(scenarios), log)
	wp.Start()

	tracker := NewProgressTracker(len(scenarios))
	submitted := 0
	for i, sc := range scenarios {
		job := Job{
			ID:         generateJobID(sc.Name, i),
			Name:       sc.Name,
			Config:     cfg,
			Limits:     limits,
			Strategies: sc.Strategies,
			Data:       data,
		}
		if err := wp.SubmitJob(job); err != nil {
			break
		}
		submitted++
	}

	results := make([]JobResult, 0, submitted)
	for i := 0; i < submitted; i++ {
		res, ok := <-wp.Results()
		if !ok {
			break
		}
		results = append(results, res)
		tracker.Increment()
		done, total, pct, _ := tracker.GetProgress()
		if log != nil {
			log.Info("scenario %s done (%d/%d, %.0f%%, eta %s)", res.Name, done, total, pct, tracker.EstimateTimeRemaining().Round(time.Second))
		}
	}
	wp.Stop()

	order := make(map[string]int, len(scenarios))
	for i, sc := range scenarios {
		order[generateJobID(sc.Name, i)] = i
	}
	sort.Slice(results, func(i, j int) bool { return order[results[i].ID] < order[results[j].ID] })
	return results
}

func generateJobID(name string, index int) string {
	return fmt.Sprintf("%03d_%s", index, name)
}

// ProgressTracker tracks completed jobs.
type ProgressTracker struct {
	total     int
	completed int
	startTime time.Time
	mutex     sync.RWMutex
}

// NewProgressTracker creates a tracker for total jobs.
func NewProgressTracker(total int) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
	}
}

// Increment marks one job as done.
func (pt *ProgressTracker) Increment() {
	pt.mutex.Lock()
	defer pt.mutex.Unlock()
	pt.completed++
}

// GetProgress returns completed, total, percent done and elapsed time.
func (pt *ProgressTracker) GetProgress() (int, int, float64, time.Duration) {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	elapsed := time.Since(pt.startTime)
	progress := 0.0
	if pt.total > 0 {
		progress = float64(pt.completed) / float64(pt.total) * 100
	}
	return pt.completed, pt.total, progress, elapsed
}

// EstimateTimeRemaining extrapolates from the average job duration so far.
func (pt *ProgressTracker) EstimateTimeRemaining() time.Duration {
	pt.mutex.RLock()
	defer pt.mutex.RUnlock()

	if pt.completed == 0 {
		return 0
	}
	elapsed := time.Since(pt.startTime)
	avgTimePerItem := elapsed / time.Duration(pt.completed)
	return avgTimePerItem * time.Duration(pt.total-pt.completed)
}
