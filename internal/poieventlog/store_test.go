package poieventlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func shieldEvent(index, startingIndex uint64, bc string) model.SignedPOIEvent {
	return model.SignedPOIEvent{
		Index:                          index,
		BlindedCommitmentStartingIndex: startingIndex,
		BlindedCommitments:             []string{bc},
		Kind:                           model.EventKindShield,
		Signature:                      []byte("sig"),
	}
}

func TestAppend_DenseIndicesFromZero(t *testing.T) {
	s := newTestStore(t)
	const list = "list-a"

	require.NoError(t, s.Append(list, shieldEvent(0, 0, "0x1")))
	require.NoError(t, s.Append(list, shieldEvent(1, 1, "0x2")))
	require.NoError(t, s.Append(list, shieldEvent(2, 2, "0x3")))

	n, err := s.Length(list)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	for i := uint64(0); i < n; i++ {
		ev, err := s.Get(list, i)
		require.NoError(t, err)
		require.Equal(t, i, ev.Index)
	}
}

func TestAppend_RejectsNonDenseIndex(t *testing.T) {
	s := newTestStore(t)
	const list = "list-a"
	require.NoError(t, s.Append(list, shieldEvent(0, 0, "0x1")))

	err := s.Append(list, shieldEvent(2, 1, "0x2"))
	require.ErrorIs(t, err, ErrInvariant)

	n, lenErr := s.Length(list)
	require.NoError(t, lenErr)
	require.Equal(t, uint64(1), n, "rejected append must not change log length")
}

func TestAppend_RejectsStartingIndexMismatch(t *testing.T) {
	s := newTestStore(t)
	const list = "list-a"
	require.NoError(t, s.Append(list, shieldEvent(0, 0, "0x1")))

	// Event 1 should start at 0+1=1, not 5.
	err := s.Append(list, shieldEvent(1, 5, "0x2"))
	require.ErrorIs(t, err, ErrInvariant)
}

func TestAppend_FirstEventMustStartAtZero(t *testing.T) {
	s := newTestStore(t)
	err := s.Append("list-a", shieldEvent(0, 1, "0x1"))
	require.ErrorIs(t, err, ErrInvariant)
}

func TestAppend_StartingIndexChainsAcrossMultiCommitmentEvents(t *testing.T) {
	s := newTestStore(t)
	const list = "list-a"

	transact := model.SignedPOIEvent{
		Index:                          0,
		BlindedCommitmentStartingIndex: 0,
		BlindedCommitments:             []string{"0x1", "0x2"},
		Kind:                           model.EventKindTransact,
		Signature:                      []byte("sig"),
	}
	require.NoError(t, s.Append(list, transact))
	// Next event's starting index must equal 0 + len(2) = 2.
	require.NoError(t, s.Append(list, shieldEvent(1, 2, "0x3")))

	last, ok, err := s.Last(list)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), last.Index)
}

func TestGetRange_ClampsToLogLength(t *testing.T) {
	s := newTestStore(t)
	const list = "list-a"
	for i := uint64(0); i < 10; i++ {
		require.NoError(t, s.Append(list, shieldEvent(i, i, "0xc")))
	}
	rows, err := s.GetRange(list, 0, 1000)
	require.NoError(t, err)
	require.Len(t, rows, 10) // clamped by actual log length, well under the 500 cap
}
