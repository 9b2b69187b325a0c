package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"

	"pvp-casino-backend/internal/lib/logger/sl"
	"pvp-casino-backend/internal/models"
)

const (
	DefaultSchedulerWorkers = 4
	schedulerQueueSize      = 1024
	advanceTimeout          = 30 * time.Second
)

type Advancer interface {
	Advance(ctx context.Context, gameID string) (*models.Game, error)
	Sweep(ctx context.Context) (int, error)
}

// Job is one unit of work for the worker pool.
type Job interface {
	Execute(ctx context.Context)
}

type advanceJob struct {
	s      *Scheduler
	gameID string
}

func (j advanceJob) Execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, advanceTimeout)
	defer cancel()

	if _, err := j.s.advancer.Advance(ctx, j.gameID); err != nil {
		j.s.log.Warn("scheduled advance failed", sl.Game(j.gameID), sl.Err(err))
	}
}

// Scheduler fires per-game timers (entry expiry, countdown end) into a
// worker pool and runs the periodic sweep that catches anything a timer
// missed, such as games left behind by a restart.
type Scheduler struct {
	log      *slog.Logger
	advancer Advancer
	workers  int
	queue    chan Job
	cron     *cron.Cron

	mu     sync.Mutex
	timers map[string]*time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(log *slog.Logger, advancer Advancer, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultSchedulerWorkers
	}
	return &Scheduler{
		log:      log,
		advancer: advancer,
		workers:  workers,
		queue:    make(chan Job, schedulerQueueSize),
		cron:     cron.New(),
		timers:   make(map[string]*time.Timer),
	}
}

func (s *Scheduler) Start(ctx context.Context, sweepInterval time.Duration) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work()
	}

	if sweepInterval > 0 {
		_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", sweepInterval), s.sweep)
		if err != nil {
			return fmt.Errorf("failed to schedule sweep: %w", err)
		}
		s.cron.Start()
	}

	s.log.Info("scheduler started", slog.Int("workers", s.workers), slog.Duration("sweep_interval", sweepInterval))

	// Pick up whatever was in flight before the process started.
	go s.sweep()

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule advances gameID at the given time. Timers are hints: a missed
// one is caught by the sweep.
func (s *Scheduler) Schedule(gameID string, at time.Time) {
	key := fmt.Sprintf("%s@%d", gameID, at.UnixNano())
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[key]; ok {
		return
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()

		s.Dispatch(advanceJob{s: s, gameID: gameID})
	})
}

// Dispatch queues a job without blocking; a full queue drops the job.
func (s *Scheduler) Dispatch(job Job) {
	select {
	case s.queue <- job:
	default:
		s.log.Warn("scheduler queue full, dropping job")
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) work() {
	defer s.wg.Done()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			job.Execute(ctx)
		}
	}
}

func (s *Scheduler) sweep() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	n, err := s.advancer.Sweep(ctx)
	if err != nil {
		s.log.Warn("sweep finished with errors", slog.Int("advanced", n), sl.Err(err))
		return
	}
	s.log.Debug("sweep finished", slog.Int("advanced", n))
}
