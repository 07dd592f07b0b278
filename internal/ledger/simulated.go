package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/nitesh/factoura_service/internal/clock"
)

const (
	simulatedBlockBase  = 9_000_000
	simulatedBlockRange = 1_000_000
)

// Simulated fabricates ledger receipts after an artificial confirmation delay.
type Simulated struct {
	delay        time.Duration
	explorerBase string
	clock        clock.Clock
	entropy      io.Reader

	mu  sync.Mutex
	rng *mrand.Rand
}

type SimulatedOption func(*Simulated)

// WithClock replaces the clock used for the confirmation delay and timestamps.
func WithClock(c clock.Clock) SimulatedOption {
	return func(s *Simulated) { s.clock = c }
}

// WithRand replaces the block number source.
func WithRand(r *mrand.Rand) SimulatedOption {
	return func(s *Simulated) { s.rng = r }
}

// WithEntropy replaces the source of transaction hash bytes.
func WithEntropy(r io.Reader) SimulatedOption {
	return func(s *Simulated) { s.entropy = r }
}

func NewSimulated(delay time.Duration, explorerBase string, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		delay:        delay,
		explorerBase: explorerBase,
		clock:        clock.Real{},
		entropy:      rand.Reader,
		rng:          mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Simulated) Mode() string { return "simulated" }

func (s *Simulated) Verify(ctx context.Context, articleID int64, content string) (Verification, error) {
	if err := s.clock.Sleep(ctx, s.delay); err != nil {
		return Verification{}, fmt.Errorf("simulated ledger: %w", err)
	}

	tx, err := s.randomHash()
	if err != nil {
		return Verification{}, err
	}

	s.mu.Lock()
	block := simulatedBlockBase + s.rng.Int64N(simulatedBlockRange)
	s.mu.Unlock()

	return Verification{
		ArticleID:       articleID,
		ContentHash:     ContentHash(content),
		TransactionHash: tx,
		BlockNumber:     block,
	}, nil
}

// Status always reports verified, with a fresh random hash.
func (s *Simulated) Status(ctx context.Context, articleID int64) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	h, err := s.randomHash()
	if err != nil {
		return Status{}, err
	}
	return Status{IsVerified: true, Timestamp: s.clock.Now(), ContentHash: h}, nil
}

func (s *Simulated) ExplorerURL(txHash string) string {
	return explorerURL(s.explorerBase, txHash)
}

func (s *Simulated) randomHash() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(s.entropy, b); err != nil {
		return "", fmt.Errorf("simulated ledger: read entropy: %w", err)
	}
	return "0x" + hex.EncodeToString(b), nil
}
