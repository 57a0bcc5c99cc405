package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"perpflow/logger"
	"perpflow/models"
)

// Mode is the coordinator's transport state.
type Mode int32

const (
	ModeInit Mode = iota
	ModePush
	ModePull
	ModeStopped
)

func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "init"
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	case ModeStopped:
		return "stopped"
	}
	return "unknown"
}

// Status is the feed health surfaced to callers.
type Status int32

const (
	StatusOK Status = iota
	StatusDegraded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// PushSession is one established streaming connection. Events carries decoded
// feed events until the transport fails; a failure is reported on Done (or by
// closing Events). Close releases the connection and is safe to call twice.
type PushSession interface {
	Events() <-chan models.FeedEvent
	Done() <-chan error
	Close() error
}

// Transport is the venue-supplied pair of transport openers. OpenPush dials
// the streaming channel and subscribes; Pull fetches full state. The
// coordinator is otherwise venue-agnostic, and transports arrive already
// authenticated.
type Transport interface {
	Name() string
	OpenPush(ctx context.Context) (PushSession, error)
	Pull(ctx context.Context) ([]models.FeedEvent, error)
}

// CoordinatorConfig tunes one coordinator instance.
type CoordinatorConfig struct {
	// PullInterval is the fixed pull cadence: sub-5-second for order books,
	// tens of seconds for account data.
	PullInterval time.Duration
	// LivenessTimeout declares a silent push connection dead.
	LivenessTimeout time.Duration
	// DegradedAfter is the consecutive pull failure count that flips the
	// status to degraded. Zero means the default of 3.
	DegradedAfter int
	// WarnEvery rate-limits the degraded warning. Zero means one per minute.
	WarnEvery time.Duration
	// RedialMin/RedialMax bound the push re-dial backoff. Defaults 5s/1m.
	RedialMin time.Duration
	RedialMax time.Duration
}

func (c *CoordinatorConfig) defaults() {
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 3
	}
	if c.WarnEvery <= 0 {
		c.WarnEvery = time.Minute
	}
	if c.RedialMin <= 0 {
		c.RedialMin = 5 * time.Second
	}
	if c.RedialMax <= 0 {
		c.RedialMax = time.Minute
	}
}

// Coordinator keeps exactly one transport active for a single logical feed
// and migrates push -> pull on failure, pull -> push on re-establishment.
// Events are dispatched to the sink from one goroutine only, so the owning
// feed never sees two concurrent writers.
type Coordinator struct {
	name      string
	transport Transport
	sink      func(models.FeedEvent)
	// onPushStart runs after a push connection is adopted and before its
	// events are consumed; the market feed uses it to baseline snapshots.
	onPushStart func(ctx context.Context) error
	cfg         CoordinatorConfig
	log         *logger.Log

	mode   atomic.Int32
	status atomic.Int32

	mu       sync.Mutex
	running  bool
	fatal    error
	lastWarn time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires a coordinator for one feed. sink must not block.
func NewCoordinator(name string, transport Transport, sink func(models.FeedEvent), cfg CoordinatorConfig) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		name:      name,
		transport: transport,
		sink:      sink,
		cfg:       cfg,
		log:       logger.GetLogger(),
	}
}

// SetPushStartHook registers the baseline hook. Must be called before Start.
func (c *Coordinator) SetPushStartHook(hook func(ctx context.Context) error) {
	c.onPushStart = hook
}

// Mode returns the current transport state.
func (c *Coordinator) Mode() Mode { return Mode(c.mode.Load()) }

// Status returns the feed health.
func (c *Coordinator) Status() Status { return Status(c.status.Load()) }

// Err returns the terminal error, if any. Transport and schema errors are
// absorbed and never reported here; auth errors are.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Start launches the coordinator loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator %s already running", c.name)
	}
	c.running = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
	c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name}).Info("coordinator started")
	return nil
}

// Stop cancels any in-flight request, releases the transport and waits for
// the loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.mode.Store(int32(ModeStopped))
	c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name}).Info("coordinator stopped")
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name})

	pushSupported := true

	// Init: one push-connect attempt, then fall back. No retry loop here.
	session, err := c.transport.OpenPush(c.ctx)
	if err != nil {
		switch {
		case IsAuthError(err):
			c.fail(err)
			return
		case errors.Is(err, ErrPushUnsupported):
			pushSupported = false
			log.Info("push transport unsupported, running pull only")
		default:
			log.WithError(err).Warn("initial push connect failed, falling back to pull")
		}
		session = nil
	}

	for c.ctx.Err() == nil {
		if session != nil {
			c.runPush(session)
			session = nil
			if c.ctx.Err() != nil {
				break
			}
		}
		next, err := c.runPull(pushSupported)
		if err != nil {
			c.fail(err)
			return
		}
		session = next
	}
	c.mode.Store(int32(ModeStopped))
}

// runPush consumes one push session until it fails, the liveness timeout
// expires or the coordinator stops.
func (c *Coordinator) runPush(session PushSession) {
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name, "mode": "push"})
	defer session.Close()

	if c.onPushStart != nil {
		if err := c.onPushStart(c.ctx); err != nil {
			if IsAuthError(err) {
				c.fail(err)
				c.cancel()
				return
			}
			log.WithError(err).Warn("push baseline failed, falling back to pull")
			return
		}
	}

	c.mode.Store(int32(ModePush))
	c.status.Store(int32(StatusOK))
	log.Info("push transport active")

	liveness := time.NewTimer(c.cfg.LivenessTimeout)
	defer liveness.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				log.Warn("push transport closed, falling back to pull")
				return
			}
			c.sink(ev)
			if !liveness.Stop() {
				select {
				case <-liveness.C:
				default:
				}
			}
			liveness.Reset(c.cfg.LivenessTimeout)
		case err := <-session.Done():
			log.WithError(err).Warn("push transport failed, falling back to pull")
			return
		case <-liveness.C:
			log.WithFields(logger.Fields{"timeout": c.cfg.LivenessTimeout.String()}).Warn("push transport silent past liveness timeout, falling back to pull")
			return
		}
	}
}

type redialResult struct {
	session PushSession
	err     error
}

// runPull issues full pulls on the fixed interval and, after successful
// pulls, re-attempts push in the background. It returns the re-established
// session, or (nil, nil) on shutdown, or the terminal error.
func (c *Coordinator) runPull(pushSupported bool) (PushSession, error) {
	log := c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name, "mode": "pull"})
	c.mode.Store(int32(ModePull))

	bo := &backoff.Backoff{Min: c.cfg.RedialMin, Max: c.cfg.RedialMax, Factor: 2, Jitter: true}
	ticker := time.NewTicker(c.cfg.PullInterval)
	defer ticker.Stop()

	failures := 0
	var redial chan redialResult
	nextRedial := time.Now()

	pullOnce := func() error {
		events, err := c.transport.Pull(c.ctx)
		if err != nil {
			if IsAuthError(err) {
				return err
			}
			failures++
			if failures >= c.cfg.DegradedAfter {
				c.status.Store(int32(StatusDegraded))
				c.warnDegraded(log, failures, err)
			} else {
				log.WithError(err).Warn("pull failed")
			}
			return nil
		}
		failures = 0
		c.status.Store(int32(StatusOK))
		for _, ev := range events {
			c.sink(ev)
		}
		if pushSupported && redial == nil && !time.Now().Before(nextRedial) {
			redial = make(chan redialResult, 1)
			go func(ch chan redialResult) {
				s, err := c.transport.OpenPush(c.ctx)
				ch <- redialResult{session: s, err: err}
			}(redial)
		}
		return nil
	}

	if err := pullOnce(); err != nil {
		return nil, err
	}

	for {
		select {
		case <-c.ctx.Done():
			if redial != nil {
				go drainRedial(redial)
			}
			return nil, nil
		case <-ticker.C:
			if err := pullOnce(); err != nil {
				if redial != nil {
					go drainRedial(redial)
				}
				return nil, err
			}
		case res := <-redial:
			redial = nil
			if res.err != nil {
				if IsAuthError(res.err) {
					return nil, res.err
				}
				nextRedial = time.Now().Add(bo.Duration())
				log.WithError(res.err).Debug("push re-dial failed")
				continue
			}
			log.Info("push transport re-established")
			return res.session, nil
		}
	}
}

// drainRedial closes a session from a re-dial that lost the race with
// shutdown or a terminal error.
func drainRedial(ch chan redialResult) {
	if res := <-ch; res.session != nil {
		res.session.Close()
	}
}

func (c *Coordinator) warnDegraded(log *logger.Entry, failures int, err error) {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastWarn) < c.cfg.WarnEvery {
		c.mu.Unlock()
		return
	}
	c.lastWarn = now
	c.mu.Unlock()
	log.WithError(err).WithFields(logger.Fields{"consecutive_failures": failures}).Warn("feed degraded, pulls keep failing")
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	c.fatal = err
	c.mu.Unlock()
	c.status.Store(int32(StatusFailed))
	c.mode.Store(int32(ModeStopped))
	c.log.WithComponent("coordinator").WithFields(logger.Fields{"feed": c.name}).WithError(err).Error("feed terminated")
}
