// Package eventqueue implements the single-writer coordinator that
// serialises access to a list's POI event log, assigns dense indices,
// computes blinded-commitment offsets, and signs each event before
// appending it to the log store.
//
// The coordinator is an explicit object with an Init(listKey)
// lifecycle step that must run once before Start; a second Init call
// is rejected rather than silently re-binding the writer to a
// different list.
package eventqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zy0n/proof-of-innocence/internal/model"
	"github.com/zy0n/proof-of-innocence/internal/poieventlog"
	"github.com/zy0n/proof-of-innocence/internal/signer"
)

// ErrDoubleInit is returned by Init when the coordinator has already
// been bound to a listKey.
var ErrDoubleInit = errors.New("eventqueue: coordinator already initialized")

type queuedEvent struct {
	shield   *model.POIEventShield
	transact *model.POIEventTransact
}

// Coordinator is the single writer for one list's POI event log.
type Coordinator struct {
	events *poieventlog.Store
	signer *signer.Signer
	log    log.Logger

	mu          sync.Mutex
	listKey     string
	initialized bool
	pending     []queuedEvent

	wake chan struct{}
	done chan struct{}
}

// New builds a coordinator over the given log store and signer. Call
// Init before Start.
func New(events *poieventlog.Store, s *signer.Signer) *Coordinator {
	return &Coordinator{
		events: events,
		signer: s,
		log:    log.New("component", "eventqueue"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Init binds the coordinator to listKey. A second call returns
// ErrDoubleInit rather than silently re-binding the writer to a
// different list.
func (c *Coordinator) Init(listKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return errors.Wrapf(ErrDoubleInit, "already bound to %s", c.listKey)
	}
	c.listKey = listKey
	c.initialized = true
	return nil
}

// QueueUnsignedPOIShieldEvent buffers a shield event for later
// signing.
func (c *Coordinator) QueueUnsignedPOIShieldEvent(ev model.POIEventShield) {
	c.mu.Lock()
	c.pending = append(c.pending, queuedEvent{shield: &ev})
	c.mu.Unlock()
	c.Wake()
}

// QueueUnsignedPOITransactEvent buffers a transact event for later
// signing.
func (c *Coordinator) QueueUnsignedPOITransactEvent(ev model.POIEventTransact) {
	c.mu.Lock()
	c.pending = append(c.pending, queuedEvent{transact: &ev})
	c.mu.Unlock()
	c.Wake()
}

// Wake nudges the drain loop to run before its next scheduled tick.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Drain synchronously empties the queue, signing and appending every
// buffered event. Start calls this on its own cadence; callers that
// need a synchronous flush (tests, graceful shutdown) can call it
// directly.
func (c *Coordinator) Drain() {
	c.drainOnce()
}

// Start runs the drain loop until ctx is cancelled: drain everything
// buffered, then sleep until delay elapses or a wake signal arrives.
func (c *Coordinator) Start(ctx context.Context, delay time.Duration) {
	defer close(c.done)
	for {
		c.drainOnce()
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-time.After(delay):
		}
	}
}

// Stopped is closed once Start has returned.
func (c *Coordinator) Stopped() <-chan struct{} { return c.done }

func (c *Coordinator) popFront() (queuedEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return queuedEvent{}, false
	}
	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, true
}

func (c *Coordinator) pushFront(ev queuedEvent) {
	c.mu.Lock()
	c.pending = append([]queuedEvent{ev}, c.pending...)
	c.mu.Unlock()
}

// drainOnce empties the queue in FIFO order, signing and appending
// each event. A signature failure returns the event to the head of the
// queue and stops this pass; an invariant violation from the log store
// is fatal and halts the coordinator entirely, since continuing would
// silently corrupt downstream proofs.
func (c *Coordinator) drainOnce() {
	for {
		ev, ok := c.popFront()
		if !ok {
			return
		}
		if err := c.signAndAppend(ev); err != nil {
			if errors.Is(err, poieventlog.ErrInvariant) {
				c.log.Crit("POI log invariant violation, halting coordinator", "list", c.listKey, "err", err)
				panic(err)
			}
			c.log.Warn("signing failed, re-queueing event", "list", c.listKey, "err", err)
			c.pushFront(ev)
			return
		}
	}
}

func (c *Coordinator) signAndAppend(ev queuedEvent) error {
	n, err := c.events.Length(c.listKey)
	if err != nil {
		return errors.Wrap(err, "read log length")
	}
	startingIndex, err := c.nextStartingIndex(n)
	if err != nil {
		return err
	}

	switch {
	case ev.shield != nil:
		commitments := []string{ev.shield.BlindedCommitment}
		msg, err := signer.EncodeShieldEvent(n, startingIndex, commitments)
		if err != nil {
			return errors.Wrap(err, "encode shield event")
		}
		sig := c.signer.Sign(msg)
		return c.events.Append(c.listKey, model.SignedPOIEvent{
			Index:                          n,
			BlindedCommitmentStartingIndex: startingIndex,
			BlindedCommitments:             commitments,
			Kind:                           model.EventKindShield,
			Signature:                      sig,
		})
	case ev.transact != nil:
		msg, err := signer.EncodeTransactEvent(n, startingIndex, ev.transact.BlindedCommitments, ev.transact.Proof)
		if err != nil {
			return errors.Wrap(err, "encode transact event")
		}
		sig := c.signer.Sign(msg)
		return c.events.Append(c.listKey, model.SignedPOIEvent{
			Index:                          n,
			BlindedCommitmentStartingIndex: startingIndex,
			BlindedCommitments:             ev.transact.BlindedCommitments,
			Kind:                           model.EventKindTransact,
			Proof:                          ev.transact.Proof,
			Signature:                      sig,
		})
	default:
		return errors.New("eventqueue: empty queued event")
	}
}

func (c *Coordinator) nextStartingIndex(n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	last, ok, err := c.events.Last(c.listKey)
	if err != nil {
		return 0, errors.Wrap(err, "read last event")
	}
	if !ok {
		return 0, nil
	}
	return last.BlindedCommitmentStartingIndex + uint64(len(last.BlindedCommitments)), nil
}
