// Package queuepoller implements the self-rescheduling poller that
// drives new shields from the chain observer into the shield queue,
// advancing each network's scan cursor.
package queuepoller

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/zy0n/proof-of-innocence/internal/chainobserver"
	"github.com/zy0n/proof-of-innocence/internal/model"
	"github.com/zy0n/proof-of-innocence/internal/shieldqueue"
	"github.com/zy0n/proof-of-innocence/internal/statusstore"
)

// Poller never runs overlapping iterations for a given network, and
// drains networks serially within a pass.
type Poller struct {
	networks         []model.Network
	deploymentBlocks map[model.Network]uint64
	status           *statusstore.Store
	queue            *shieldqueue.Store
	observer         chainobserver.Observer
	log              log.Logger
}

// New builds a queueing poller over the given networks. deploymentBlocks
// supplies the floor used when a network has no recorded status yet.
func New(networks []model.Network, deploymentBlocks map[model.Network]uint64, status *statusstore.Store, queue *shieldqueue.Store, observer chainobserver.Observer) *Poller {
	return &Poller{
		networks:         networks,
		deploymentBlocks: deploymentBlocks,
		status:           status,
		queue:            queue,
		observer:         observer,
		log:              log.New("component", "queuepoller"),
	}
}

// Start runs one pass over every network, then sleeps delay, forever,
// until ctx is cancelled: a cooperative run-to-completion, sleep,
// reinvoke loop rather than an overlapping timer.
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

// RunOnce drives a single pass over every configured network, in
// series, to avoid a thundering herd on the chain RPC.
func (p *Poller) RunOnce(ctx context.Context) {
	for _, network := range p.networks {
		if err := ctx.Err(); err != nil {
			return
		}
		p.pollNetwork(ctx, network)
	}
}

func (p *Poller) pollNetwork(ctx context.Context, network model.Network) {
	fromBlock, ok, err := p.status.LatestBlockScanned(network)
	if err != nil {
		p.log.Error("read status failed, skipping network this pass", "network", network, "err", err)
		return
	}
	if !ok {
		fromBlock = p.deploymentBlocks[network]
	}

	shields, err := p.observer.FetchNewShields(ctx, network, fromBlock)
	if err != nil {
		p.log.Error("fetch new shields failed", "network", network, "fromBlock", fromBlock, "err", err)
		return
	}
	if len(shields) == 0 {
		return
	}

	for _, s := range shields {
		item := model.ShieldQueueItem{
			Network:           network,
			TXID:              s.TXID,
			Hash:              s.Hash,
			BlindedCommitment: s.BlindedCommitment,
			Timestamp:         s.Timestamp,
			BlockNumber:       s.BlockNumber,
		}
		if err := p.queue.InsertPending(item); err != nil {
			// Per-shield errors are logged and swallowed; the rest of
			// the batch must still be attempted.
			p.log.Error("insert pending shield failed", "network", network, "txid", s.TXID, "err", err)
			continue
		}
	}

	last := shields[len(shields)-1]
	if err := p.status.SaveStatus(network, last.BlockNumber); err != nil {
		p.log.Error("save status failed", "network", network, "block", last.BlockNumber, "err", err)
	}
}
