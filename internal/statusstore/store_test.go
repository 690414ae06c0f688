package statusstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zy0n/proof-of-innocence/internal/kvstore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := kvstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func TestLatestBlockScanned_AbsentByDefault(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LatestBlockScanned("eth")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveStatus_Monotonic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveStatus("eth", 100))
	require.NoError(t, s.SaveStatus("eth", 150))

	block, ok, err := s.LatestBlockScanned("eth")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(150), block)
}

func TestSaveStatus_RejectsRegression(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveStatus("eth", 100))

	err := s.SaveStatus("eth", 50)
	require.ErrorIs(t, err, ErrRegression)

	block, _, err := s.LatestBlockScanned("eth")
	require.NoError(t, err)
	require.Equal(t, uint64(100), block, "rejected write must not change stored value")
}

func TestSaveStatus_EqualIsAllowed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveStatus("eth", 100))
	require.NoError(t, s.SaveStatus("eth", 100))
}

func TestSaveStatus_PerNetworkIsolation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveStatus("eth", 100))
	require.NoError(t, s.SaveStatus("bsc", 5))

	ethBlock, _, err := s.LatestBlockScanned("eth")
	require.NoError(t, err)
	bscBlock, _, err := s.LatestBlockScanned("bsc")
	require.NoError(t, err)
	require.Equal(t, uint64(100), ethBlock)
	require.Equal(t, uint64(5), bscBlock)
}
