package validatepoller

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zy0n/proof-of-innocence/internal/blockedshields"
	"github.com/zy0n/proof-of-innocence/internal/chainobserver"
	"github.com/zy0n/proof-of-innocence/internal/eventqueue"
	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
	"github.com/zy0n/proof-of-innocence/internal/poieventlog"
	"github.com/zy0n/proof-of-innocence/internal/policy"
	"github.com/zy0n/proof-of-innocence/internal/shieldqueue"
	"github.com/zy0n/proof-of-innocence/internal/signer"
)

type fakeObserver struct {
	receipts map[string]chainobserver.Receipt
}

func (f *fakeObserver) FetchNewShields(context.Context, model.Network, uint64) ([]chainobserver.ShieldObservation, error) {
	return nil, nil
}

func (f *fakeObserver) FetchReceipt(_ context.Context, _ model.Network, txid string) (chainobserver.Receipt, error) {
	return f.receipts[txid], nil
}

type harness struct {
	queue   *shieldqueue.Store
	events  *poieventlog.Store
	blocked *blockedshields.Store
	coord   *eventqueue.Coordinator
	signer  *signer.Signer
	obs     *fakeObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv, err := kvstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	s, err := signer.Generate()
	require.NoError(t, err)

	events := poieventlog.New(kv)
	coord := eventqueue.New(events, s)
	require.NoError(t, coord.Init(s.ListKey()))

	return &harness{
		queue:   shieldqueue.New(kv),
		events:  events,
		blocked: blockedshields.New(kv),
		coord:   coord,
		signer:  s,
		obs:     &fakeObserver{receipts: map[string]chainobserver.Receipt{}},
	}
}

const pendingPeriod = 24 * time.Hour

func insertAgedShield(t *testing.T, h *harness, txid, from string) model.ShieldQueueItem {
	t.Helper()
	item := model.ShieldQueueItem{
		Network:           "eth",
		TXID:              txid,
		Hash:              "0x" + hex.EncodeToString([]byte("hash"+txid)),
		BlindedCommitment: "0x" + hex.EncodeToString([]byte("bc"+txid)),
		Timestamp:         time.Now().Add(-2 * pendingPeriod).UnixMilli(),
		BlockNumber:       1,
	}
	require.NoError(t, h.queue.InsertPending(item))
	h.obs.receipts[txid] = chainobserver.Receipt{
		FromAddress: from,
		Timestamp:   item.Timestamp,
		BlockNumber: 1,
	}
	return item
}

// The policy-block path ends in Blocked status, a signed blocked
// record, and no POI event.
func TestValidateRow_PolicyBlockPath(t *testing.T) {
	h := newHarness(t)
	gate := policy.NewAddressSetGate([]string{"0xexcluded"}, "sanctioned")
	p := New([]model.Network{"eth"}, pendingPeriod, h.signer.ListKey(), h.queue, h.obs, gate, h.coord, h.blocked, h.signer)

	item := insertAgedShield(t, h, "tx1", "0xexcluded")
	p.RunOnce(context.Background())

	rows, err := h.queue.GetPendingShields("eth", time.Now().UnixMilli(), 10)
	require.NoError(t, err)
	require.Empty(t, rows, "blocked shield must leave the pending set")

	rec, ok, err := h.blocked.Get(h.signer.ListKey(), item.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sanctioned", rec.BlockReason)

	msg, err := signer.EncodeBlockedShield(rec.CommitmentHash, rec.BlindedCommitment, rec.BlockReason)
	require.NoError(t, err)
	require.True(t, signer.Verify(msg, rec.Signature, h.signer.PublicKey()))

	n, err := h.events.Length(h.signer.ListKey())
	require.NoError(t, err)
	require.Zero(t, n, "no POI event should be emitted for a blocked shield")
}

// The allow path ends in Allowed status and a signed POI event
// once the coordinator drains its queue.
func TestValidateRow_PolicyAllowPath(t *testing.T) {
	h := newHarness(t)
	gate := policy.NewAddressSetGate(nil, "")
	p := New([]model.Network{"eth"}, pendingPeriod, h.signer.ListKey(), h.queue, h.obs, gate, h.coord, h.blocked, h.signer)

	item := insertAgedShield(t, h, "tx1", "0xallowed")
	p.RunOnce(context.Background())
	h.coord.Drain()

	n, err := h.events.Length(h.signer.ListKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	ev, err := h.events.Get(h.signer.ListKey(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{item.BlindedCommitment}, ev.BlindedCommitments)

	msg, err := signer.EncodeShieldEvent(ev.Index, ev.BlindedCommitmentStartingIndex, ev.BlindedCommitments)
	require.NoError(t, err)
	require.True(t, signer.Verify(msg, ev.Signature, h.signer.PublicKey()))
}

func TestValidateRow_TooRecentStaysPending(t *testing.T) {
	h := newHarness(t)
	gate := policy.NewAddressSetGate(nil, "")
	p := New([]model.Network{"eth"}, pendingPeriod, h.signer.ListKey(), h.queue, h.obs, gate, h.coord, h.blocked, h.signer)

	item := model.ShieldQueueItem{
		Network:           "eth",
		TXID:              "tx1",
		Hash:              "0xhash",
		BlindedCommitment: "0xbc",
		Timestamp:         time.Now().Add(-2 * pendingPeriod).UnixMilli(),
		BlockNumber:       1,
	}
	require.NoError(t, h.queue.InsertPending(item))
	// Observer reports a receipt timestamp newer than the eligibility
	// cutoff: the optimistic-timestamp guard must keep this row pending.
	h.obs.receipts["tx1"] = chainobserver.Receipt{FromAddress: "0xwhoever", Timestamp: time.Now().UnixMilli()}

	p.RunOnce(context.Background())

	rows, err := h.queue.GetPendingShields("eth", time.Now().UnixMilli(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a shield whose re-derived timestamp is too recent stays Pending")
}

func TestValidateRow_RevalidatingAnAllowedShieldIsNoOp(t *testing.T) {
	h := newHarness(t)
	gate := policy.NewAddressSetGate(nil, "")
	p := New([]model.Network{"eth"}, pendingPeriod, h.signer.ListKey(), h.queue, h.obs, gate, h.coord, h.blocked, h.signer)

	insertAgedShield(t, h, "tx1", "0xallowed")
	p.RunOnce(context.Background())
	h.coord.Drain()

	p.RunOnce(context.Background()) // the shield is no longer Pending, so this must be a no-op
	h.coord.Drain()

	n, err := h.events.Length(h.signer.ListKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), n, "re-running validation over an already-Allowed shield must not emit a second event")
}
