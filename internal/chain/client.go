// Package chain is the on-chain gateway for the prediction market contract.
// It holds the settlement wallet, packs calls against a hand-declared ABI,
// and submits EIP-1559 transactions through a JSON-RPC endpoint.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/predictfi/settlebot/internal/domain"
)

// Config holds the chain gateway settings.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// PrivateKeyHex is the settlement wallet key, hex-encoded, optional 0x
	// prefix. Empty disables write methods (read-only gateway).
	PrivateKeyHex string
}

// Client talks to one prediction market contract with one settlement wallet.
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	logger   *slog.Logger
}

// New dials the RPC endpoint and verifies the remote chain ID matches the
// configured one before returning a usable client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("chain: RPC URL is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := parseContractABI()
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	remoteID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: fetch chain ID: %w", err)
	}
	if cfg.ChainID != 0 && remoteID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: chain ID mismatch: configured %d, endpoint reports %s", cfg.ChainID, remoteID)
	}

	c := &Client{
		eth:      eth,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  remoteID,
		logger:   logger.With(slog.String("component", "chain")),
	}

	if strings.TrimSpace(cfg.PrivateKeyHex) != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: invalid private key: %w", err)
		}
		c.key = key
		c.from = ethcrypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// WalletAddress returns the settlement wallet address, or the zero address
// when the client is read-only.
func (c *Client) WalletAddress() common.Address {
	return c.from
}

// GetMarketCount reads the number of markets the contract has created.
func (c *Client) GetMarketCount(ctx context.Context) (uint64, error) {
	data, err := c.call(ctx, "getMarketCount")
	if err != nil {
		return 0, err
	}

	out, err := c.abi.Unpack("getMarketCount", data)
	if err != nil {
		return 0, fmt.Errorf("chain: unpack getMarketCount: %w", err)
	}
	return out[0].(*big.Int).Uint64(), nil
}

// GetMarket reads a single market. Unknown IDs surface as domain.ErrNotFound
// when the contract returns a zero market.
func (c *Client) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	data, err := c.call(ctx, "getMarket", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Market{}, err
	}

	var tuple marketTuple
	if err := c.abi.UnpackIntoInterface(&tuple, "getMarket", data); err != nil {
		return domain.Market{}, fmt.Errorf("chain: unpack getMarket: %w", err)
	}
	if tuple.Id.Sign() == 0 && id != 0 {
		return domain.Market{}, fmt.Errorf("chain: market %d: %w", id, domain.ErrNotFound)
	}
	return tuple.toDomainMarket(), nil
}

// GetAllMarkets reads every market on the contract, one getMarket call per
// ID. Market IDs are 1-based on the contract.
func (c *Client) GetAllMarkets(ctx context.Context) ([]domain.Market, error) {
	count, err := c.GetMarketCount(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]domain.Market, 0, count)
	for id := uint64(1); id <= count; id++ {
		m, err := c.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// SettleMarket submits the automated settlement transaction and returns its
// hash. It does not wait for inclusion.
func (c *Client) SettleMarket(ctx context.Context, id uint64, outcome domain.SettlementOutcome, confidence uint64, evidenceURI string) (string, error) {
	return c.transact(ctx, "settleMarket",
		new(big.Int).SetUint64(id),
		uint8(outcome),
		new(big.Int).SetUint64(confidence),
		evidenceURI,
	)
}

// SettleMarketManually submits the operator-decided settlement transaction.
func (c *Client) SettleMarketManually(ctx context.Context, id uint64, outcome domain.SettlementOutcome) (string, error) {
	return c.transact(ctx, "settleMarketManually",
		new(big.Int).SetUint64(id),
		uint8(outcome),
	)
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]byte, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	data, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	return data, nil
}

// transact packs, signs, and broadcasts a contract write as a dynamic-fee
// transaction.
func (c *Client) transact(ctx context.Context, method string, args ...any) (string, error) {
	if c.key == nil {
		return "", fmt.Errorf("chain: %s: no settlement wallet configured", method)
	}

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", method, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: suggest gas tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("chain: fetch head: %w", err)
	}
	// feeCap = 2*baseFee + tip gives headroom for one doubling of the base
	// fee before the tx goes stale.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: input,
	})
	if err != nil {
		return "", fmt.Errorf("chain: estimate gas for %s: %w", method, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &c.contract,
		Data:      input,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send %s: %w", method, err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("method", method),
		slog.String("tx_hash", hash),
		slog.Uint64("nonce", nonce),
	)
	return hash, nil
}

// WaitMined polls for the receipt of a submitted transaction until the
// context expires. A mined-but-reverted tx is an error.
func (c *Client) WaitMined(ctx context.Context, txHash string) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: transaction %s reverted", txHash)
			}
			return nil
		}
		if !errorsIsNotFound(err) {
			return fmt.Errorf("chain: fetch receipt %s: %w", txHash, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: waiting for %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound) || strings.Contains(err.Error(), "not found")
}
