package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// Config controls pacing and the cooldown circuit breaker.
type Config struct {
	BaseDelay        time.Duration `json:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	FailureThreshold int           `json:"failure_threshold"`
	CooldownDuration time.Duration `json:"cooldown_duration"`
}

// Job performs one outbound call. The context keeps the submitter's values
// but is never cancelled by the submitter.
type Job func(ctx context.Context) (interface{}, error)

// Recorder receives gateway events. *metrics.MetricsCollector satisfies it.
type Recorder interface {
	RecordUpstreamCall(duration time.Duration, success bool)
	RecordRateLimited()
	RecordCooldownRejection()
	RecordPacedWait(wait time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamCall(time.Duration, bool) {}
func (nopRecorder) RecordRateLimited()                     {}
func (nopRecorder) RecordCooldownRejection()               {}
func (nopRecorder) RecordPacedWait(time.Duration)          {}

// State is a point-in-time view of the scheduler.
type State struct {
	QueueLength         int           `json:"queue_length"`
	Executing           bool          `json:"executing"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	InCooldown          bool          `json:"in_cooldown"`
	CooldownRemaining   time.Duration `json:"cooldown_remaining"`
	LastCall            time.Time     `json:"last_call"`
	Closed              bool          `json:"closed"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(g *Gateway) { g.clock = clock }
}

// WithLogger sets the logger used for pacing and cooldown events.
func WithLogger(log *logger.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithMetrics sets the event recorder.
func WithMetrics(recorder Recorder) Option {
	return func(g *Gateway) { g.metrics = recorder }
}

// WithRateLimitClassifier overrides which job errors count as rate-limit failures.
func WithRateLimitClassifier(classify func(error) bool) Option {
	return func(g *Gateway) { g.isRateLimited = classify }
}

type pendingJob struct {
	ctx    context.Context
	job    Job
	future *Future
}

// Gateway serializes jobs through a single drain goroutine. Consecutive
// rate-limit failures stretch the delay between calls and, past the
// threshold, open a cooldown during which every job is rejected.
type Gateway struct {
	cfg           Config
	clock         Clock
	log           *logger.Logger
	metrics       Recorder
	isRateLimited func(error) bool

	mu            sync.Mutex
	queue         []*pendingJob
	draining      bool
	executing     bool
	closed        bool
	closeCh       chan struct{}
	lastCall      time.Time
	failures      int
	inCooldown    bool
	cooldownUntil time.Time
	cooldownTimer Timer
}

// New creates a Gateway. Zero config values fall back to a one second base
// delay, a threshold of one and a cooldown equal to the max delay.
func New(cfg Config, opts ...Option) *Gateway {
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = cfg.MaxDelay
	}

	g := &Gateway{
		cfg:           cfg,
		clock:         RealClock(),
		metrics:       nopRecorder{},
		isRateLimited: IsRateLimited,
		closeCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.GetLogger()
	}
	g.log = g.log.Named("gateway")
	return g
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config {
	return g.cfg
}

// Submit appends job to the queue and returns its completion handle.
// While the gateway is cooling down the job is rejected without being queued.
func (g *Gateway) Submit(ctx context.Context, job Job) *Future {
	future := newFuture()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		future.resolve(nil, ErrClosed)
		return future
	}
	if g.inCooldown {
		remaining := g.cooldownUntil.Sub(g.clock.Now())
		g.mu.Unlock()
		g.metrics.RecordCooldownRejection()
		g.log.WithContext(ctx).Debug("Job rejected during cooldown",
			zap.Duration("cooldown_remaining", remaining),
		)
		future.resolve(nil, ErrCooldownActive)
		return future
	}

	g.queue = append(g.queue, &pendingJob{ctx: ctx, job: job, future: future})
	if !g.draining {
		g.draining = true
		go g.drain()
	}
	g.mu.Unlock()

	return future
}

// Do submits job and waits for its result.
func (g *Gateway) Do(ctx context.Context, job Job) (interface{}, error) {
	return g.Submit(ctx, job).Wait(ctx)
}

// Snapshot returns the current scheduler state.
func (g *Gateway) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := State{
		QueueLength:         len(g.queue),
		Executing:           g.executing,
		ConsecutiveFailures: g.failures,
		InCooldown:          g.inCooldown,
		LastCall:            g.lastCall,
		Closed:              g.closed,
	}
	if g.inCooldown {
		if remaining := g.cooldownUntil.Sub(g.clock.Now()); remaining > 0 {
			state.CooldownRemaining = remaining
		}
	}
	return state
}

// Throttled reports whether the failure threshold has been reached or a
// cooldown is in progress.
func (g *Gateway) Throttled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCooldown || g.failures >= g.cfg.FailureThreshold
}

// Close stops the cooldown timer and rejects queued jobs with ErrClosed.
// A job already executing runs to completion.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.closeCh)
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
		g.cooldownTimer = nil
	}
	pending := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, p := range pending {
		p.future.resolve(nil, ErrClosed)
	}
	g.log.Info("Gateway closed", zap.Int("rejected_jobs", len(pending)))
}

func (g *Gateway) drain() {
	for {
		g.mu.Lock()
		if g.closed {
			g.draining = false
			g.mu.Unlock()
			return
		}
		if g.inCooldown {
			pending := g.queue
			g.queue = nil
			g.draining = false
			g.mu.Unlock()
			g.rejectCooldown(pending)
			return
		}
		if len(g.queue) == 0 {
			g.draining = false
			g.mu.Unlock()
			return
		}

		next := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]

		wait := g.pacingWaitLocked()
		g.mu.Unlock()

		if wait > 0 {
			g.metrics.RecordPacedWait(wait)
			g.log.WithContext(next.ctx).Debug("Pacing outbound call", zap.Duration("wait", wait))
			select {
			case <-g.clock.After(wait):
			case <-g.closeCh:
				next.future.resolve(nil, ErrClosed)
				continue
			}
		}

		g.execute(next)
	}
}

// pacingWaitLocked returns how long the head job must wait before running.
func (g *Gateway) pacingWaitLocked() time.Duration {
	if g.lastCall.IsZero() {
		return 0
	}
	elapsed := g.clock.Now().Sub(g.lastCall)
	required := g.requiredDelayLocked()
	if elapsed >= required {
		return 0
	}
	return required - elapsed
}

// requiredDelayLocked is min(BaseDelay * 2^failures, MaxDelay).
func (g *Gateway) requiredDelayLocked() time.Duration {
	delay := g.cfg.BaseDelay
	for i := 0; i < g.failures && delay < g.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > g.cfg.MaxDelay {
		delay = g.cfg.MaxDelay
	}
	return delay
}

func (g *Gateway) execute(p *pendingJob) {
	g.mu.Lock()
	g.lastCall = g.clock.Now()
	g.executing = true
	g.mu.Unlock()

	start := g.clock.Now()
	value, err := runJob(context.WithoutCancel(p.ctx), p.job)
	duration := g.clock.Now().Sub(start)

	g.mu.Lock()
	g.executing = false
	if err == nil {
		g.failures = 0
		g.mu.Unlock()
		g.metrics.RecordUpstreamCall(duration, true)
		p.future.resolve(value, nil)
		return
	}

	log := g.log.WithContext(p.ctx)
	if g.isRateLimited(err) {
		g.failures++
		failures := g.failures
		tripped := false
		if failures >= g.cfg.FailureThreshold && !g.inCooldown && !g.closed {
			g.enterCooldownLocked()
			tripped = true
		}
		g.mu.Unlock()

		g.metrics.RecordRateLimited()
		log.Warn("Upstream rate limited",
			zap.Int("consecutive_failures", failures),
			zap.Error(err),
		)
		if tripped {
			log.Warn("Entering cooldown",
				zap.Duration("cooldown", g.cfg.CooldownDuration),
				zap.Int("threshold", g.cfg.FailureThreshold),
			)
		}
	} else {
		g.mu.Unlock()
		log.Warn("Upstream call failed", zap.Error(err))
	}

	g.metrics.RecordUpstreamCall(duration, false)
	p.future.resolve(nil, err)
}

// runJob keeps a panicking job from taking the drain loop down with it.
func runJob(ctx context.Context, job Job) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: job panicked: %v", ErrUpstreamFailure, r)
		}
	}()
	return job(ctx)
}

func (g *Gateway) enterCooldownLocked() {
	g.inCooldown = true
	g.cooldownUntil = g.clock.Now().Add(g.cfg.CooldownDuration)
	g.cooldownTimer = g.clock.AfterFunc(g.cfg.CooldownDuration, g.exitCooldown)
}

func (g *Gateway) exitCooldown() {
	g.mu.Lock()
	if !g.inCooldown {
		g.mu.Unlock()
		return
	}
	g.inCooldown = false
	g.failures = 0
	g.cooldownUntil = time.Time{}
	g.cooldownTimer = nil
	g.mu.Unlock()

	g.log.Info("Cooldown ended")
}

func (g *Gateway) rejectCooldown(pending []*pendingJob) {
	for _, p := range pending {
		g.metrics.RecordCooldownRejection()
		p.future.resolve(nil, ErrCooldownActive)
	}
	if len(pending) > 0 {
		g.log.Info("Rejected queued jobs during cooldown", zap.Int("jobs", len(pending)))
	}
}

// Future is the completion handle of a submitted job. It completes exactly once.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value interface{}, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the job has completed or been rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the job completes or ctx ends. Abandoning the wait does
// not withdraw the job.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
