// Package progress broadcasts per-session healing events over NATS.
//
// The Bus is an explicit registry: a session is opened when its healing loop
// starts, events go to the subject healing.sessions.<id>.events, and teardown
// is deferred by a grace delay so observers of a just-finished session still
// receive its trailing events. Publishing never blocks and never returns an
// error: an unregistered session or a failed publish is a silent drop,
// because progress is advisory and must not stall the loop.
package progress

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event type names carried in envelopes.
const (
	EventStatus          = "status"
	EventLog             = "log"
	EventBugFound        = "bug_found"
	EventTestResult      = "test_result"
	EventFixApplied      = "fix_applied"
	EventAttemptComplete = "attempt_complete"
	EventScore           = "score"
	EventError           = "error"
)

const (
	defaultGrace = 30 * time.Second

	// subscriptionBuffer bounds per-subscriber backlog. NATS drops past it
	// rather than blocking delivery.
	subscriptionBuffer = 64
)

// Event is one progress update. Data is marshaled as-is into the envelope.
type Event struct {
	Type string
	Data any
}

// Envelope is the wire form subscribers receive.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subject returns the NATS subject carrying a session's event stream.
func Subject(sessionID string) string {
	return fmt.Sprintf("healing.sessions.%s.events", sessionID)
}

// Bus publishes per-session healing events and tracks which sessions are
// live. Safe for concurrent use.
type Bus struct {
	nc     *nats.Conn
	grace  time.Duration
	logger *zap.Logger

	sessions sync.Map // session id -> opened-at time.Time
}

// New creates a Bus on an established NATS connection. grace is how long a
// finished session stays registered after Teardown; zero or negative selects
// the default. The logger may be nil.
func New(nc *nats.Conn, grace time.Duration, logger *zap.Logger) *Bus {
	if grace <= 0 {
		grace = defaultGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{nc: nc, grace: grace, logger: logger}
}

// Open registers a session for publishing. Idempotent.
func (b *Bus) Open(sessionID string) {
	b.sessions.LoadOrStore(sessionID, time.Now())
}

// Publish broadcasts one event for a registered session. Events for
// unregistered sessions are dropped, as are events whose data cannot be
// marshaled or whose publish fails; failures are logged, never returned.
func (b *Bus) Publish(sessionID string, event Event) {
	if _, ok := b.sessions.Load(sessionID); !ok {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"type":      event.Type,
		"data":      event.Data,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		b.logger.Warn("progress event not marshalable",
			zap.String("session_id", sessionID),
			zap.String("type", event.Type),
			zap.Error(err))
		return
	}

	if err := b.nc.Publish(Subject(sessionID), payload); err != nil {
		b.logger.Warn("progress publish failed",
			zap.String("session_id", sessionID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

// Teardown deregisters a session after the grace delay. Events published
// inside the window still go out; later ones are dropped.
func (b *Bus) Teardown(sessionID string) {
	go func() {
		time.Sleep(b.grace)
		b.sessions.Delete(sessionID)
	}()
}

// Subscription is a channel-backed feed of one session's events, delivered
// in publish order on C.
type Subscription struct {
	C <-chan Envelope

	out  chan Envelope
	sub  *nats.Subscription
	done chan struct{}
	once sync.Once
}

// Subscribe attaches a consumer to a session's event stream. The caller must
// Close the subscription when done reading.
func (b *Bus) Subscribe(sessionID string) (*Subscription, error) {
	msgs := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := b.nc.ChanSubscribe(Subject(sessionID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to session %s: %w", sessionID, err)
	}

	s := &Subscription{
		out:  make(chan Envelope, subscriptionBuffer),
		sub:  sub,
		done: make(chan struct{}),
	}
	s.C = s.out

	go func() {
		for {
			select {
			case msg := <-msgs:
				var env Envelope
				if err := json.Unmarshal(msg.Data, &env); err != nil {
					continue
				}
				select {
				case s.out <- env:
				case <-s.done:
					return
				}
			case <-s.done:
				return
			}
		}
	}()

	return s, nil
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		_ = s.sub.Unsubscribe()
		close(s.done)
	})
}
