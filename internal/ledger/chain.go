package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const verifierABI = `[
  {"type":"function","name":"verifyArticle","stateMutability":"nonpayable",
   "inputs":[{"name":"articleId","type":"uint256"},{"name":"contentHash","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getVerificationStatus","stateMutability":"view",
   "inputs":[{"name":"articleId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"},{"name":"","type":"uint256"},{"name":"","type":"string"}]}
]`

// ChainConfig holds what is needed to reach the deployed verifier contract.
type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ExplorerBase    string
}

// Usable reports whether every field is set to something other than a
// sample placeholder.
func (c ChainConfig) Usable() bool {
	return !placeholder(c.RPCURL) && !placeholder(c.PrivateKey) && !placeholder(c.ContractAddress)
}

// Chain submits verifications to the verifier contract and waits for them to
// be mined.
type Chain struct {
	client       *ethclient.Client
	contract     *bind.BoundContract
	key          *ecdsa.PrivateKey
	chainID      *big.Int
	explorerBase string
}

func DialChain(ctx context.Context, cfg ChainConfig) (*Chain, error) {
	if !cfg.Usable() {
		return nil, errors.New("chain ledger: rpc url, private key and contract address are required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain ledger: parse private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		return nil, fmt.Errorf("chain ledger: parse abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain ledger: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain ledger: chain id: %w", err)
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &Chain{
		client:       client,
		contract:     bind.NewBoundContract(addr, parsed, client, client, client),
		key:          key,
		chainID:      chainID,
		explorerBase: cfg.ExplorerBase,
	}, nil
}

func (c *Chain) Mode() string { return "chain" }

func (c *Chain) Close() {
	c.client.Close()
}

// Verify sends verifyArticle and blocks until the transaction is mined.
func (c *Chain) Verify(ctx context.Context, articleID int64, content string) (Verification, error) {
	hash := ContentHash(content)

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return Verification{}, fmt.Errorf("chain ledger: transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := c.contract.Transact(opts, "verifyArticle", big.NewInt(articleID), hash)
	if err != nil {
		return Verification{}, fmt.Errorf("chain ledger: send verifyArticle(%d): %w", articleID, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return Verification{}, fmt.Errorf("chain ledger: wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Verification{}, fmt.Errorf("chain ledger: transaction %s reverted", receipt.TxHash.Hex())
	}

	return Verification{
		ArticleID:       articleID,
		ContentHash:     hash,
		TransactionHash: receipt.TxHash.Hex(),
		BlockNumber:     receipt.BlockNumber.Int64(),
	}, nil
}

func (c *Chain) Status(ctx context.Context, articleID int64) (Status, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getVerificationStatus", big.NewInt(articleID))
	if err != nil {
		return Status{}, fmt.Errorf("chain ledger: getVerificationStatus(%d): %w", articleID, err)
	}
	return decodeStatus(out)
}

func decodeStatus(out []interface{}) (Status, error) {
	if len(out) != 3 {
		return Status{}, fmt.Errorf("chain ledger: expected 3 return values, got %d", len(out))
	}
	verified, ok1 := out[0].(bool)
	ts, ok2 := out[1].(*big.Int)
	hash, ok3 := out[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return Status{}, fmt.Errorf("chain ledger: unexpected return types %T, %T, %T", out[0], out[1], out[2])
	}

	st := Status{IsVerified: verified, ContentHash: hash}
	if ts.Sign() > 0 {
		st.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	}
	return st, nil
}

func (c *Chain) ExplorerURL(txHash string) string {
	return explorerURL(c.explorerBase, txHash)
}
