// Package validatepoller implements the poller that drains eligible
// shields from the shield queue, resolves each one's receipt, consults
// the policy gate, and emits the resulting signed record.
package validatepoller

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/zy0n/proof-of-innocence/internal/blockedshields"
	"github.com/zy0n/proof-of-innocence/internal/chainobserver"
	"github.com/zy0n/proof-of-innocence/internal/eventqueue"
	"github.com/zy0n/proof-of-innocence/internal/model"
	"github.com/zy0n/proof-of-innocence/internal/policy"
	"github.com/zy0n/proof-of-innocence/internal/shieldqueue"
	"github.com/zy0n/proof-of-innocence/internal/signer"
)

// BatchSize is the per-iteration row cap.
const BatchSize = 100

// Poller is the validation poller.
type Poller struct {
	networks      []model.Network
	pendingPeriod time.Duration
	listKey       string

	queue     *shieldqueue.Store
	observer  chainobserver.Observer
	gate      policy.Gate
	coord     *eventqueue.Coordinator
	blocked   *blockedshields.Store
	signer    *signer.Signer
	log       log.Logger
	nowFunc   func() time.Time
}

// New builds a validation poller. listKey identifies the blocked-
// shield records this poller signs and stores.
func New(networks []model.Network, pendingPeriod time.Duration, listKey string, queue *shieldqueue.Store, observer chainobserver.Observer, gate policy.Gate, coord *eventqueue.Coordinator, blocked *blockedshields.Store, s *signer.Signer) *Poller {
	return &Poller{
		networks:      networks,
		pendingPeriod: pendingPeriod,
		listKey:       listKey,
		queue:         queue,
		observer:      observer,
		gate:          gate,
		coord:         coord,
		blocked:       blocked,
		signer:        s,
		log:           log.New("component", "validatepoller"),
		nowFunc:       time.Now,
	}
}

// Start runs one pass over every network, then sleeps delay, forever,
// until ctx is cancelled.
func (p *Poller) Start(ctx context.Context, delay time.Duration) {
	for {
		p.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// RunOnce drains up to BatchSize eligible rows from every network, in
// series across networks and concurrently within each network's batch.
func (p *Poller) RunOnce(ctx context.Context) {
	for _, network := range p.networks {
		if err := ctx.Err(); err != nil {
			return
		}
		p.validateNetwork(ctx, network)
	}
}

func (p *Poller) validateNetwork(ctx context.Context, network model.Network) {
	endTimestamp := p.nowFunc().Add(-p.pendingPeriod).UnixMilli()

	rows, err := p.queue.GetPendingShields(network, endTimestamp, BatchSize)
	if err != nil {
		p.log.Error("fetch pending shields failed", "network", network, "err", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	// Intra-batch fan-out is unbounded within the BatchSize cap.
	// errgroup.Group (not WithContext) is used so one row's error never
	// cancels the others' in-flight RPC calls; every row's worker always
	// returns nil, logging instead of propagating, so Wait can never
	// abort the batch.
	var g errgroup.Group
	for _, row := range rows {
		row := row
		g.Go(func() error {
			p.validateRow(ctx, network, endTimestamp, row)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) validateRow(ctx context.Context, network model.Network, endTimestamp int64, row model.ShieldQueueItem) {
	receipt, err := p.observer.FetchReceipt(ctx, network, row.TXID)
	if err != nil {
		p.log.Warn("fetch receipt failed, leaving shield pending", "network", network, "txid", row.TXID, "err", err)
		return
	}

	// Re-derive the timestamp from the receipt's block; an observer
	// that reported an optimistic timestamp must not let a shield
	// through before it is actually eligible.
	if receipt.Timestamp > endTimestamp {
		return
	}

	fromLower := strings.ToLower(receipt.FromAddress)
	decision, err := p.gate.Evaluate(network, row.TXID, fromLower, receipt.Timestamp)
	if err != nil {
		p.log.Warn("policy gate failed, leaving shield pending", "network", network, "txid", row.TXID, "err", err)
		return
	}

	key := row.Key()
	if decision.ShouldAllow {
		p.coord.QueueUnsignedPOIShieldEvent(model.POIEventShield{
			Network:           network,
			CommitmentHash:    row.Hash,
			BlindedCommitment: row.BlindedCommitment,
		})
		if err := p.queue.UpdateShieldStatus(key, model.StatusAllowed, receipt.Timestamp); err != nil {
			if errors.Is(err, shieldqueue.ErrStatusRegression) {
				p.log.Crit("shield status regression", "network", network, "txid", row.TXID, "err", err)
				panic(err)
			}
			p.log.Error("update shield status to Allowed failed", "network", network, "txid", row.TXID, "err", err)
		}
		return
	}

	msg, err := signer.EncodeBlockedShield(row.Hash, row.BlindedCommitment, decision.BlockReason)
	if err != nil {
		p.log.Error("encode blocked shield failed, leaving shield pending", "network", network, "txid", row.TXID, "err", err)
		return
	}
	rec := model.SignedBlockedShield{
		CommitmentHash:    row.Hash,
		BlindedCommitment: row.BlindedCommitment,
		BlockReason:       decision.BlockReason,
		Signature:         p.signer.Sign(msg),
	}
	if err := p.blocked.Add(p.listKey, rec); err != nil {
		p.log.Error("store blocked shield failed", "network", network, "txid", row.TXID, "err", err)
		return
	}
	if err := p.queue.UpdateShieldStatus(key, model.StatusBlocked, receipt.Timestamp); err != nil {
		if errors.Is(err, shieldqueue.ErrStatusRegression) {
			p.log.Crit("shield status regression", "network", network, "txid", row.TXID, "err", err)
			panic(err)
		}
		p.log.Error("update shield status to Blocked failed", "network", network, "txid", row.TXID, "err", err)
	}
}
