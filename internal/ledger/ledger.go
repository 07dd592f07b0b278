// Package ledger records article content fingerprints on a ledger, either a
// real contract or a simulated one.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/nitesh/factoura_service/internal/logging"
)

// Verification is the receipt of a successful Verify call.
type Verification struct {
	ArticleID       int64  `json:"articleId"`
	ContentHash     string `json:"contentHash"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     int64  `json:"blockNumber"`
}

// Status is what the ledger currently reports for an article.
type Status struct {
	IsVerified  bool      `json:"isVerified"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"contentHash"`
}

// Verifier is implemented by Simulated and Chain. Verify is not idempotent:
// each call produces a new receipt.
type Verifier interface {
	Verify(ctx context.Context, articleID int64, content string) (Verification, error)
	Status(ctx context.Context, articleID int64) (Status, error)
	ExplorerURL(txHash string) string
	Mode() string
}

// ContentHash is the 0x-prefixed hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "0x" + hex.EncodeToString(sum[:])
}

func explorerURL(base, txHash string) string {
	if txHash == "" {
		return ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + txHash
}

// placeholder reports config values copied from a sample .env file.
func placeholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.Contains(v, "your-")
}

// Open returns the chain ledger when mode is "chain" and the chain settings are
// usable, and the simulated ledger otherwise. A chain that cannot be reached
// at boot also falls back to the simulated ledger.
func Open(ctx context.Context, mode string, chain ChainConfig, simulatedDelay time.Duration) Verifier {
	log := logging.With("ledger")
	if mode == "chain" {
		if !chain.Usable() {
			log.Warn().Msg("chain ledger requested but configuration is missing or placeholder, using simulated ledger")
		} else if c, err := DialChain(ctx, chain); err != nil {
			log.Error().Err(err).Msg("chain ledger unavailable, using simulated ledger")
		} else {
			log.Info().Str("contract", chain.ContractAddress).Msg("using chain ledger")
			return c
		}
	}
	log.Info().Dur("delay", simulatedDelay).Msg("using simulated ledger")
	return NewSimulated(simulatedDelay, chain.ExplorerBase)
}
