package cloud

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/srg/lbridge/internal/groutine"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/property"
)

// Default shim settings.
const (
	DefaultPushTimeout = 10 * time.Second
	DefaultMaxFailures = 5
	DefaultOpenTimeout = 30 * time.Second
	DefaultInterval    = 60 * time.Second
)

// Options tunes the shim. Zero fields take the defaults.
type Options struct {
	PushTimeout time.Duration
	// MaxFailures is the number of consecutive push failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker fails fast before probing again.
	OpenTimeout time.Duration
	// Interval clears the failure counts of a closed breaker.
	Interval time.Duration
}

// PushStats counts push outcomes for one property.
type PushStats struct {
	Pushed   uint64
	Failed   uint64
	Rejected uint64
	LastPush time.Time
}

type counters struct {
	pushed   atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	last     atomic.Int64
}

// Shim forwards every locally sourced change to a Sink.
type Shim struct {
	sink    Sink
	opts    Options
	breaker *gobreaker.CircuitBreaker[struct{}]
	stats   *hashmap.Map[string, *counters]
	group   *groutine.Group
	logger  *logrus.Logger

	// guards closed and every group.Go, so no push starts once Close waits
	mu     sync.Mutex
	closed bool
}

var _ notify.Listener = (*Shim)(nil)

// NewShim creates a shim pushing to sink.
func NewShim(sink Sink, opts Options, logger *logrus.Logger) *Shim {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = DefaultPushTimeout
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	s := &Shim{
		sink:   sink,
		opts:   opts,
		stats:  hashmap.New[string, *counters](),
		group:  groutine.NewGroup(context.Background()),
		logger: logger,
	}
	maxFailures := opts.MaxFailures
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "cloud-push",
		MaxRequests: 1,
		Interval:    opts.Interval,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Cloud push circuit breaker state changed")
		},
	})
	return s
}

// OnChanges starts one push per locally sourced change and returns immediately.
// Changes that came from the cloud are not echoed back.
func (s *Shim) OnChanges(deviceID string, changes []property.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.WithField("device_id", deviceID).Debug("Cloud shim closed, dropping changes")
		return
	}
	for _, c := range changes {
		if c.Source != property.Local {
			continue
		}
		dp := NewDatapoint(deviceID, c)
		s.group.Go("cloud-push", func(ctx context.Context) {
			s.push(ctx, dp)
		})
	}
}

func (s *Shim) push(ctx context.Context, dp Datapoint) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PushTimeout)
	defer cancel()

	c, _ := s.stats.GetOrInsert(dp.Property.String(), &counters{})
	log := s.logger.WithFields(logrus.Fields{
		"device_id":    dp.DeviceID,
		"property":     dp.Property.String(),
		"datapoint_id": dp.ID,
		"goroutine":    groutine.GetName(ctx),
	})

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.sink.Push(ctx, dp)
	})
	switch {
	case err == nil:
		c.pushed.Add(1)
		c.last.Store(time.Now().UnixNano())
		log.Debug("Datapoint pushed")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.rejected.Add(1)
		log.WithField("error", err).Debug("Cloud unavailable, datapoint dropped")
	default:
		c.failed.Add(1)
		log.WithField("error", err).Warn("Datapoint push failed")
	}
}

// Stats returns per-property push counters.
func (s *Shim) Stats() map[string]PushStats {
	out := make(map[string]PushStats, s.stats.Len())
	s.stats.Range(func(name string, c *counters) bool {
		st := PushStats{
			Pushed:   c.pushed.Load(),
			Failed:   c.failed.Load(),
			Rejected: c.rejected.Load(),
		}
		if ns := c.last.Load(); ns != 0 {
			st.LastPush = time.Unix(0, ns)
		}
		out[name] = st
		return true
	})
	return out
}

// BreakerState reports the circuit breaker state.
func (s *Shim) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Wait blocks until every push started so far has finished.
func (s *Shim) Wait() {
	s.group.Wait()
}

// Close stops accepting changes and drains in-flight pushes.
func (s *Shim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.group.Wait()
	s.group.Cancel()
	return nil
}
