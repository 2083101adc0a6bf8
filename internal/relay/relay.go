// Package relay carries orders between ledgers. A created order is filled on
// its destination chain, and the fill is reported back to the source chain.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Genius-Foundation/genius-contracts-sub003/internal/events"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/ledger"
	"github.com/Genius-Foundation/genius-contracts-sub003/internal/types"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 256

// ShutdownFunc stops a started relay and waits for its worker.
type ShutdownFunc func()

// Option customizes a Relay.
type Option func(*Relay)

func WithLogger(log logrus.FieldLogger) Option { return func(r *Relay) { r.log = log } }

// WithRules sets the checks an order must pass before it is filled.
func WithRules(rules ...Rule) Option { return func(r *Relay) { r.rules = rules } }

func WithQueueSize(n int) Option { return func(r *Relay) { r.queueSize = n } }

// Relay acts as the orchestrator for the ledgers registered with it. It is an
// events.Sink and can also consume events other nodes publish on NATS.
type Relay struct {
	orchestrator types.Account
	log          logrus.FieldLogger
	rules        []Rule
	queueSize    int
	queue        chan events.Event

	mu      sync.RWMutex
	ledgers map[uint64]*ledger.Ledger
	subs    []*nats.Subscription
}

// New returns a relay signing its calls as orchestrator.
func New(orchestrator types.Account, opts ...Option) *Relay {
	r := &Relay{
		orchestrator: orchestrator,
		queueSize:    defaultQueueSize,
		ledgers:      make(map[uint64]*ledger.Ledger),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.queueSize <= 0 {
		r.queueSize = defaultQueueSize
	}
	r.log = r.log.WithField("component", "relay")
	r.queue = make(chan events.Event, r.queueSize)
	return r
}

// Register adds a ledger the relay fills and settles on.
func (r *Relay) Register(l *ledger.Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.ChainID()] = l
}

func (r *Relay) ledger(chainID uint64) *ledger.Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledgers[chainID]
}

// Publish queues the order events of batch. It never blocks; a full queue
// drops the remaining events and reports it.
func (r *Relay) Publish(_ context.Context, batch []events.Event) error {
	for i, e := range batch {
		if !relevant(e) {
			continue
		}
		select {
		case r.queue <- e:
		default:
			return fmt.Errorf("relay queue full, dropped %d events", len(batch)-i)
		}
	}
	return nil
}

func relevant(e events.Event) bool {
	return (e.Type == events.OrderCreated || e.Type == events.OrderFilled) && e.Order != nil
}

// Start processes queued events until ctx is done or the returned
// ShutdownFunc is called.
func (r *Relay) Start(ctx context.Context) ShutdownFunc {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-r.queue:
				if err := r.Handle(ctx, e); err != nil {
					r.log.WithError(err).WithFields(logrus.Fields{
						"event":  e.Type,
						"digest": e.Digest.Hex(),
					}).Warn("Relay could not process event")
				}
			}
		}
	}()
	r.log.Info("Relay started")

	return func() {
		cancel()
		wg.Wait()
		r.unsubscribe()
		r.log.Info("Relay stopped")
	}
}

// Handle acts on one event: OrderCreated fills on the destination ledger,
// OrderFilled marks the source ledger. Events for unregistered chains are
// ignored.
func (r *Relay) Handle(ctx context.Context, e events.Event) error {
	if !relevant(e) {
		return nil
	}
	switch e.Type {
	case events.OrderCreated:
		return r.fill(ctx, e.Order)
	case events.OrderFilled:
		return r.settle(ctx, e.Order)
	}
	return nil
}

func (r *Relay) fill(ctx context.Context, order *types.Order) error {
	dest := r.ledger(order.DestChainID)
	if dest == nil {
		return nil
	}
	log := r.log.WithFields(logrus.Fields{"digest": order.Digest().Hex(), "dest": order.DestChainID})

	for _, rule := range r.rules {
		if err := rule(ctx, order, dest); err != nil {
			log.WithError(err).Info("Order rejected by rule")
			return fmt.Errorf("rule rejected order: %w", err)
		}
	}

	res, err := dest.FillOrder(ctx, r.orchestrator, order, ledger.Direct)
	var statusErr *types.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == types.StatusFilled {
		log.Debug("Order already filled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fill order: %w", err)
	}
	log.WithField("payout", res.Payout.Dec()).Info("Relayed fill")
	return nil
}

func (r *Relay) settle(ctx context.Context, order *types.Order) error {
	src := r.ledger(order.SrcChainID)
	if src == nil {
		return nil
	}
	err := src.MarkFilled(ctx, r.orchestrator, order)
	var statusErr *types.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == types.StatusFilled {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark order filled: %w", err)
	}
	r.log.WithField("digest", order.Digest().Hex()).Info("Relayed settlement")
	return nil
}

// SubscribeNATS feeds order events published under prefix by any ledger node
// into the relay queue.
func (r *Relay) SubscribeNATS(conn *nats.Conn, prefix string) error {
	if prefix == "" {
		prefix = events.DefaultSubjectPrefix
	}
	for _, t := range []events.Type{events.OrderCreated, events.OrderFilled} {
		subject := fmt.Sprintf("%s.*.%s", prefix, t)
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			e, err := decodeEvent(msg.Data)
			if err != nil {
				r.log.WithError(err).WithField("subject", msg.Subject).Warn("Dropping malformed event")
				return
			}
			if err := r.Publish(context.Background(), []events.Event{e}); err != nil {
				r.log.WithError(err).Warn("Dropping event")
			}
		})
		if err != nil {
			r.unsubscribe()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
		r.log.WithField("subject", subject).Info("Subscribed")
	}
	return nil
}

func (r *Relay) unsubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			r.log.WithError(err).Debug("Unsubscribe failed")
		}
	}
	r.subs = nil
}

func decodeEvent(data []byte) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode event: %w", err)
	}
	if e.Order != nil && e.Order.Digest() != e.Digest {
		return e, fmt.Errorf("event digest %s does not match its order", e.Digest.Hex())
	}
	return e, nil
}
