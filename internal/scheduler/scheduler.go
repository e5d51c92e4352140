package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. The context is cancelled on Stop.
type Job func(ctx context.Context)

// Scheduler runs a single job on a cron schedule. A trigger that fires
// while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	spec    string
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// RunNow calls bypass cron's own job accounting
	mu      sync.Mutex
	stopped bool
	manual  sync.WaitGroup
}

// New validates spec (standard five-field cron or a descriptor such as
// @hourly) and registers job under it
func New(spec string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   c,
		spec:   spec,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	id, err := c.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register job: %w", err)
	}
	s.entryID = id

	return s, nil
}

// Start begins firing the job in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("schedule", s.spec),
		zap.Time("next_run", s.Next()),
	)
}

// RunNow runs the job immediately through the same skip-if-running chain
// as scheduled triggers. It blocks until the job returns or is skipped,
// and does nothing once Stop has been called.
func (s *Scheduler) RunNow() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.manual.Add(1)
	s.mu.Unlock()
	defer s.manual.Done()

	s.cron.Entry(s.entryID).WrappedJob.Run()
}

// Next reports the next scheduled trigger, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop halts new triggers, cancels the running job's context and waits for
// scheduled and RunNow runs to return or for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
