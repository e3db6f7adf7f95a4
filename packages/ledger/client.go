// Package ledger talks to the chain over JSON-RPC: balances, fee rates,
// nonces, signed transfer submission and receipt polling.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

var (
	// ErrInsufficientFunds is returned when the node rejects a transfer because
	// the sender cannot cover value plus fee. It is not worth retrying.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTxReverted is returned when a receipt carries a failed status.
	ErrTxReverted = errors.New("transaction failed")
	// ErrConnection is returned when the RPC endpoint cannot be used.
	ErrConnection = errors.New("ledger connection failed")
)

const receiptPollInterval = time.Second

var (
	_ Client = (*EthClient)(nil)
)

// Transfer is an unsigned native-token transfer.
type Transfer struct {
	Key      *ecdsa.PrivateKey
	Nonce    uint64
	To       ethcmn.Address
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

type Receipt struct {
	TxHash      ethcmn.Hash
	Status      uint64
	GasUsed     uint64
	BlockNumber *big.Int
}

func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Client defines what the transfer engine needs from the chain.
type Client interface {
	Balance(ctx context.Context, addr ethcmn.Address) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Nonce(ctx context.Context, addr ethcmn.Address) (uint64, error)
	SendTransfer(ctx context.Context, t Transfer) (ethcmn.Hash, error)
	WaitForReceipt(ctx context.Context, hash ethcmn.Hash, timeout time.Duration) (*Receipt, error)
}

// EthClient wraps the ethereum client with signing, error classification and
// an optional request rate limit.
type EthClient struct {
	*ethclient.Client
	rpcClient *rpc.Client
	signer    types.Signer
	chainID   *big.Int
	limiter   *rate.Limiter
}

// createHTTPClient creates an HTTP client with keep-alive connection pooling
func createHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// Dial connects to url and checks that the remote chain id matches chainID.
// requestsPerSecond <= 0 disables rate limiting.
func Dial(ctx context.Context, url string, chainID uint64, requestsPerSecond float64) (*EthClient, error) {
	rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(createHTTPClient()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize rpc client for %s: %v", ErrConnection, url, err)
	}

	cli := ethclient.NewClient(rpcClient)
	remote, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: cannot reach %s: %v", ErrConnection, url, err)
	}
	if chainID != 0 && remote.Uint64() != chainID {
		cli.Close()
		return nil, fmt.Errorf("%w: chain id mismatch, configured %d, remote %s", ErrConnection, chainID, remote)
	}

	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}

	return &EthClient{
		Client:    cli,
		rpcClient: rpcClient,
		signer:    types.LatestSignerForChainID(remote),
		chainID:   remote,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

func (e *EthClient) ChainIDValue() *big.Int {
	return new(big.Int).Set(e.chainID)
}

func (e *EthClient) Balance(ctx context.Context, addr ethcmn.Address) (*big.Int, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.BalanceAt(ctx, addr, nil)
}

func (e *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.Client.SuggestGasPrice(ctx)
}

// Nonce queries the pending nonce for the given address
func (e *EthClient) Nonce(ctx context.Context, addr ethcmn.Address) (uint64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return e.PendingNonceAt(ctx, addr)
}

// SendTransfer signs and sends a legacy value transfer.
func (e *EthClient) SendTransfer(ctx context.Context, t Transfer) (ethcmn.Hash, error) {
	unsignedTx := types.NewTx(&types.LegacyTx{
		Nonce:    t.Nonce,
		To:       &t.To,
		Value:    t.Value,
		Gas:      t.GasLimit,
		GasPrice: t.GasPrice,
	})

	signedTx, err := types.SignTx(unsignedTx, e.signer, t.Key)
	if err != nil {
		return ethcmn.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return ethcmn.Hash{}, err
	}
	if err := e.SendTransaction(ctx, signedTx); err != nil {
		return ethcmn.Hash{}, Classify(err)
	}
	return signedTx.Hash(), nil
}

// WaitForReceipt polls for the receipt of hash until it is available or
// timeout expires.
func (e *EthClient) WaitForReceipt(ctx context.Context, hash ethcmn.Hash, timeout time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(receiptPollInterval)
	defer tick.Stop()

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("receipt for %s not available after %s: %w", hash.Hex(), timeout, err)
		}
		receipt, err := e.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				TxHash:      receipt.TxHash,
				Status:      receipt.Status,
				GasUsed:     receipt.GasUsed,
				BlockNumber: receipt.BlockNumber,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt for %s not available after %s: %w", hash.Hex(), timeout, ctx.Err())
		case <-tick.C:
		}
	}
}

// Classify maps node errors onto the sentinel errors of this package. Nodes
// report the insufficient-funds condition as JSON-RPC error text, so this is
// the only place that inspects messages.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, core.ErrInsufficientFunds) ||
		strings.Contains(msg, core.ErrInsufficientFunds.Error()) ||
		strings.Contains(msg, "insufficient funds") {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("rpc error %d: %w", rpcErr.ErrorCode(), err)
	}
	return err
}
