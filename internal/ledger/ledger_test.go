package ledger

import (
	"context"
	"math/big"
	mrand "math/rand/v2"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitesh/factoura_service/internal/clock"
)

var hexHash = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func TestContentHashDeterministic(t *testing.T) {
	assert.Equal(t, ContentHash("C"), ContentHash("C"))
	assert.NotEqual(t, ContentHash("content one"), ContentHash("content two"))
	assert.Regexp(t, hexHash, ContentHash(""))
	// sha256("abc")
	assert.Equal(t, "0xba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ContentHash("abc"))
}

func newTestSimulated(fc *clock.Fake) *Simulated {
	return NewSimulated(2*time.Second, "https://amoy.polygonscan.com/tx",
		WithClock(fc),
		WithRand(mrand.New(mrand.NewPCG(1, 2))),
	)
}

func TestSimulatedVerify(t *testing.T) {
	fc := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestSimulated(fc)

	v, err := s.Verify(context.Background(), 42, "C")
	require.NoError(t, err)

	assert.Equal(t, int64(42), v.ArticleID)
	assert.Equal(t, ContentHash("C"), v.ContentHash)
	assert.Regexp(t, hexHash, v.TransactionHash)
	assert.GreaterOrEqual(t, v.BlockNumber, int64(9_000_000))
	assert.Less(t, v.BlockNumber, int64(10_000_000))
	assert.Equal(t, []time.Duration{2 * time.Second}, fc.Slept())
}

func TestSimulatedVerifyIsNotIdempotent(t *testing.T) {
	s := newTestSimulated(clock.NewFake(time.Now()))

	a, err := s.Verify(context.Background(), 1, "same")
	require.NoError(t, err)
	b, err := s.Verify(context.Background(), 1, "same")
	require.NoError(t, err)

	assert.Regexp(t, hexHash, a.TransactionHash)
	assert.Regexp(t, hexHash, b.TransactionHash)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestSimulatedVerifyCancelled(t *testing.T) {
	s := newTestSimulated(clock.NewFake(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Verify(ctx, 1, "C")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatedStatusAndExplorer(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSimulated(clock.NewFake(now))

	st, err := s.Status(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, st.IsVerified)
	assert.Equal(t, now, st.Timestamp)
	assert.Regexp(t, hexHash, st.ContentHash)

	assert.Equal(t, "https://amoy.polygonscan.com/tx/0xabc", s.ExplorerURL("0xabc"))
	assert.Empty(t, s.ExplorerURL(""))
}

func TestChainConfigUsable(t *testing.T) {
	assert.False(t, ChainConfig{}.Usable())
	assert.False(t, ChainConfig{RPCURL: "https://your-rpc-url", PrivateKey: "0x01", ContractAddress: "0x02"}.Usable())
	assert.True(t, ChainConfig{RPCURL: "https://rpc-amoy.polygon.technology", PrivateKey: "0x01", ContractAddress: "0x02"}.Usable())
}

func TestDialChainRejectsPlaceholders(t *testing.T) {
	_, err := DialChain(context.Background(), ChainConfig{PrivateKey: "your-wallet-private-key"})
	assert.Error(t, err)
}

func TestDecodeStatus(t *testing.T) {
	st, err := decodeStatus([]interface{}{true, big.NewInt(1700000000), "0xfeed"})
	require.NoError(t, err)
	assert.True(t, st.IsVerified)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), st.Timestamp)
	assert.Equal(t, "0xfeed", st.ContentHash)

	_, err = decodeStatus([]interface{}{"yes", big.NewInt(1), "x"})
	assert.Error(t, err)
	_, err = decodeStatus(nil)
	assert.Error(t, err)
}

func TestOpenFallsBackToSimulated(t *testing.T) {
	v := Open(context.Background(), "chain", ChainConfig{RPCURL: "your-rpc-url"}, time.Millisecond)
	assert.Equal(t, "simulated", v.Mode())

	v = Open(context.Background(), "simulated", ChainConfig{}, time.Millisecond)
	assert.Equal(t, "simulated", v.Mode())
}
