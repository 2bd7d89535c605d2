package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/recledger/internal/domain"
)

const erc721ABI = `[
	{"type":"function","name":"ownerOf","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
	 "outputs":[]}
]`

// ERC721Config configures the contract-backed registry.
type ERC721Config struct {
	RPCURL   string
	Contract string
	ChainID  int64
	// OperatorKey is the hex secp256k1 key of an account approved for all
	// tokens (setApprovalForAll) so it can move listed certificates.
	OperatorKey string
	ReceiptPoll time.Duration
	// ReceiptWarn is how long a transfer may stay unmined before each poll
	// logs it as stuck. Waiting continues until the receipt arrives or the
	// context ends.
	ReceiptWarn time.Duration
	Logger      *slog.Logger
}

// ERC721 reads ownership from and submits transfers to an ERC-721 contract.
type ERC721 struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address
	poll     time.Duration
	warn     time.Duration
	logger   *slog.Logger

	// mu serializes nonce allocation for the operator account.
	mu sync.Mutex
}

// DialERC721 connects to the RPC endpoint and prepares the operator signer.
func DialERC721(ctx context.Context, cfg ERC721Config) (*ERC721, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("registry/erc721: invalid contract address %q", cfg.Contract)
	}
	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: parse abi: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: invalid operator key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: dial %s: %w", cfg.RPCURL, err)
	}

	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	warn := cfg.ReceiptWarn
	if warn <= 0 {
		warn = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ERC721{
		client:   client,
		abi:      parsed,
		contract: common.HexToAddress(cfg.Contract),
		chainID:  big.NewInt(cfg.ChainID),
		key:      key,
		operator: ethcrypto.PubkeyToAddress(key.PublicKey),
		poll:     poll,
		warn:     warn,
		logger:   logger,
	}, nil
}

// Close releases the RPC connection.
func (r *ERC721) Close() {
	r.client.Close()
}

// Operator returns the address that signs transfers.
func (r *ERC721) Operator() domain.Principal {
	return r.operator
}

// OwnerOf implements domain.TokenRegistry. A reverted call is reported as a
// missing token.
func (r *ERC721) OwnerOf(ctx context.Context, tokenID uint64) (domain.Principal, bool, error) {
	data, err := r.abi.Pack("ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return domain.Principal{}, false, fmt.Errorf("registry/erc721: pack ownerOf: %w", err)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		if strings.Contains(err.Error(), "execution reverted") {
			return domain.Principal{}, false, nil
		}
		return domain.Principal{}, false, fmt.Errorf("registry/erc721: ownerOf %d: %w", tokenID, err)
	}
	vals, err := r.abi.Unpack("ownerOf", out)
	if err != nil || len(vals) != 1 {
		return domain.Principal{}, false, fmt.Errorf("registry/erc721: unpack ownerOf %d: %v", tokenID, err)
	}
	owner, ok := vals[0].(common.Address)
	if !ok {
		return domain.Principal{}, false, fmt.Errorf("registry/erc721: ownerOf %d: unexpected type %T", tokenID, vals[0])
	}
	if owner == (common.Address{}) {
		return domain.Principal{}, false, nil
	}
	return owner, true, nil
}

// Transfer implements domain.TokenRegistry. It submits transferFrom signed by
// the operator and waits for the receipt. Once the transaction may have
// reached the network, only a mined receipt decides the outcome: if ctx ends
// first the error wraps domain.ErrTransferPending.
func (r *ERC721) Transfer(ctx context.Context, tokenID uint64, from, to domain.Principal) error {
	data, err := r.abi.Pack("transferFrom", from, to, new(big.Int).SetUint64(tokenID))
	if err != nil {
		return fmt.Errorf("registry/erc721: pack transferFrom: %w", err)
	}

	signed, err := r.send(ctx, data)
	if err != nil {
		return err
	}
	receipt, err := r.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("registry/erc721: transfer %d reverted in %s", tokenID, signed.Hash().Hex())
	}
	return nil
}

func (r *ERC721) send(ctx context.Context, data []byte) (*types.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nonce, err := r.client.PendingNonceAt(ctx, r.operator)
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: nonce: %w", err)
	}
	tip, err := r.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: gas tip: %w", err)
	}
	head, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))
	gas, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From: r.operator,
		To:   &r.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &r.contract,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return nil, fmt.Errorf("registry/erc721: sign: %w", err)
	}
	if sendErr := r.client.SendTransaction(ctx, signed); sendErr != nil {
		// A send error does not prove the node dropped the transaction.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		_, _, err := r.client.TransactionByHash(lookupCtx, signed.Hash())
		cancel()
		switch {
		case errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("registry/erc721: send: %w", sendErr)
		case err != nil:
			return nil, fmt.Errorf("registry/erc721: send %s: %v: %w", signed.Hash().Hex(), sendErr, domain.ErrTransferPending)
		}
	}
	return signed, nil
}

// receiptFetcher is the part of the RPC client waitReceipt needs.
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

func (r *ERC721) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return waitReceipt(ctx, r.client, hash, r.poll, r.warn, r.logger)
}

// waitReceipt polls until hash is mined. RPC errors are retried; only the
// end of ctx stops the wait.
func waitReceipt(ctx context.Context, c receiptFetcher, hash common.Hash, poll, warn time.Duration, logger *slog.Logger) (*types.Receipt, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	start := time.Now()
	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			logger.WarnContext(ctx, "registry: receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		if waited := time.Since(start); waited >= warn {
			logger.WarnContext(ctx, "registry: transfer still pending",
				slog.String("tx", hash.Hex()),
				slog.Duration("waited", waited),
			)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("registry/erc721: receipt %s: %v: %w", hash.Hex(), ctx.Err(), domain.ErrTransferPending)
		case <-ticker.C:
		}
	}
}

// BlockHeights is a height source backed by the chain head.
type BlockHeights struct {
	client *ethclient.Client
}

// Heights returns a height source sharing the registry's RPC connection.
func (r *ERC721) Heights() *BlockHeights {
	return &BlockHeights{client: r.client}
}

// DialBlockHeights connects a standalone chain-head height source.
func DialBlockHeights(ctx context.Context, rpcURL string) (*BlockHeights, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("registry: dial %s: %w", rpcURL, err)
	}
	return &BlockHeights{client: client}, nil
}

// Close releases the RPC connection. Do not call it on a source obtained
// from ERC721.Heights.
func (b *BlockHeights) Close() {
	b.client.Close()
}

// Height implements domain.HeightSource.
func (b *BlockHeights) Height(ctx context.Context) (uint64, error) {
	n, err := b.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: block number: %w", err)
	}
	return n, nil
}
