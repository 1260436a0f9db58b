// Package chain EVM 账本网关：托管由哈希锁合约持有，发行资产为 ERC20 代币
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	nativeTransferGas = 21000
	contractCallGas   = 300000
)

// Backend 网关使用的节点能力，*ethclient.Client 满足该接口
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// Options 网关参数
type Options struct {
	NativeAsset    string
	ChainID        int64
	EscrowContract string
	Decimals       int32
	SubmitTimeout  time.Duration
	PollInterval   time.Duration
}

// Gateway EVM 账本网关
type Gateway struct {
	backend Backend
	opts    Options
	chainID *big.Int
	escrow  common.Address

	// 同一签名账户的 nonce 分配与发送串行
	mu sync.Mutex
}

var _ ledger.Gateway = (*Gateway)(nil)

// NewGateway 基于已连接的节点创建网关
func NewGateway(backend Backend, opts Options) *Gateway {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Decimals <= 0 {
		opts.Decimals = 18
	}
	if opts.NativeAsset == "" {
		opts.NativeAsset = "ETH"
	}
	return &Gateway{
		backend: backend,
		opts:    opts,
		chainID: big.NewInt(opts.ChainID),
		escrow:  common.HexToAddress(opts.EscrowContract),
	}
}

// Dial 连接节点并校验链 id
func Dial(cfg config.LedgerConfig) (*Gateway, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}
	if !common.IsHexAddress(cfg.EscrowContract) {
		return nil, fmt.Errorf("invalid escrow contract address %q", cfg.EscrowContract)
	}

	logger.Info("Creating EVM client connection (RPC: %s)", cfg.RpcUrl)
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	// 测试连接
	if err := testClientConnection(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed: %w", err)
	}

	chainID := cfg.ChainId
	remote, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID == 0 {
		chainID = remote.Int64()
	} else if remote.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, node reports %d", chainID, remote.Int64())
	}

	logger.Info("Successfully created EVM client (chain id: %d)", chainID)
	return NewGateway(client, Options{
		NativeAsset:    cfg.NativeAsset,
		ChainID:        chainID,
		EscrowContract: cfg.EscrowContract,
		Decimals:       cfg.Decimals,
		SubmitTimeout:  time.Duration(cfg.SubmitTimeout) * time.Second,
		PollInterval:   time.Duration(cfg.PollInterval) * time.Millisecond,
	}), nil
}

// testClientConnection 测试客户端连接
func testClientConnection(client *ethclient.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}
	return nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return key, nil
}

// AddressOf 私钥对应的账户地址
func (g *Gateway) AddressOf(hexKey string) (string, error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func (g *Gateway) units(amount decimal.Decimal) (*big.Int, error) {
	return ledger.ToBaseUnits(amount, g.opts.Decimals)
}

// submit 签名发送并等待上链
func (g *Gateway) submit(ctx context.Context, hexKey string, to common.Address, value *big.Int, data []byte, gas uint64) (*types.Receipt, error) {
	key, err := parseKey(hexKey)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	g.mu.Lock()
	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		g.mu.Unlock()
		return nil, errors.Wrapf(ledger.ErrUnreachable, "pending nonce: %v", err)
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		g.mu.Unlock()
		return nil, errors.Wrapf(ledger.ErrUnreachable, "gas price: %v", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), key)
	if err != nil {
		g.mu.Unlock()
		return nil, errors.Wrap(err, "sign tx")
	}
	err = g.backend.SendTransaction(ctx, signed)
	g.mu.Unlock()
	if err != nil {
		return nil, ledger.Rejected("send_failed", err.Error())
	}

	logger.Info("Submitted tx %s from %s (nonce: %d)", signed.Hash().Hex(), from.Hex(), nonce)
	return g.waitMined(ctx, signed.Hash())
}

func (g *Gateway) CreateEscrow(ctx context.Context, req ledger.CreateEscrowRequest) (*ledger.Receipt, error) {
	if !common.IsHexAddress(req.Destination) {
		return nil, fmt.Errorf("invalid escrow destination %q", req.Destination)
	}
	value, err := g.units(req.Amount)
	if err != nil {
		return nil, err
	}
	condition, err := conditionBytes(req.Condition)
	if err != nil {
		return nil, err
	}
	data, err := escrowContract.Pack("createEscrow",
		common.HexToAddress(req.Destination), condition, big.NewInt(req.FinishAfter.Unix()))
	if err != nil {
		return nil, err
	}

	receipt, err := g.submit(ctx, req.OwnerKey, g.escrow, value, data, contractCallGas)
	if err != nil {
		return nil, err
	}
	id, ok := escrowContract.EscrowID(receipt, g.escrow)
	if !ok {
		return nil, fmt.Errorf("escrow tx %s emitted no EscrowCreated event", receipt.TxHash.Hex())
	}
	return &ledger.Receipt{TxHash: receipt.TxHash.Hex(), Sequence: id}, nil
}

func (g *Gateway) FinishEscrow(ctx context.Context, req ledger.FinishEscrowRequest) (*ledger.Receipt, error) {
	preimage, err := decodeHex(req.Fulfillment)
	if err != nil {
		return nil, errors.Wrap(err, "decode preimage")
	}
	data, err := escrowContract.Pack("finishEscrow", new(big.Int).SetUint64(req.Sequence), preimage)
	if err != nil {
		return nil, err
	}
	receipt, err := g.submit(ctx, req.ReleaserKey, g.escrow, big.NewInt(0), data, contractCallGas)
	if err != nil {
		return nil, err
	}
	return &ledger.Receipt{TxHash: receipt.TxHash.Hex(), Sequence: req.Sequence}, nil
}

func (g *Gateway) SendPayment(ctx context.Context, req ledger.PaymentRequest) (*ledger.Receipt, error) {
	if !common.IsHexAddress(req.Destination) {
		return nil, ledger.Rejected("invalid_destination", req.Destination)
	}
	units, err := g.units(req.Amount)
	if err != nil {
		return nil, err
	}
	destination := common.HexToAddress(req.Destination)

	var receipt *types.Receipt
	if req.Asset.IsNative() {
		receipt, err = g.submit(ctx, req.SenderKey, destination, units, nil, nativeTransferGas)
	} else {
		data, packErr := erc20Contract.Pack("transfer", destination, units)
		if packErr != nil {
			return nil, packErr
		}
		receipt, err = g.submit(ctx, req.SenderKey, common.HexToAddress(req.Asset.Issuer), big.NewInt(0), data, contractCallGas)
	}
	if err != nil {
		return nil, err
	}
	return &ledger.Receipt{TxHash: receipt.TxHash.Hex()}, nil
}

func (g *Gateway) VerifyTransaction(ctx context.Context, txHash string) (*ledger.Transaction, error) {
	hash := common.HexToHash(txHash)
	tx, pending, err := g.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, errors.Wrapf(ledger.ErrUnreachable, "lookup transaction %s: %v", txHash, err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(g.chainID), tx)
	if err != nil {
		return nil, errors.Wrapf(err, "recover sender of %s", txHash)
	}

	out, err := g.describe(tx)
	if err != nil {
		return nil, err
	}
	out.Hash = hash.Hex()
	out.Account = sender.Hex()
	if pending {
		out.ResultCode = "pending"
		return out, nil
	}

	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			out.ResultCode = "pending"
			return out, nil
		}
		return nil, errors.Wrapf(ledger.ErrUnreachable, "receipt %s: %v", txHash, err)
	}
	out.Verified = true
	out.Success = receipt.Status == types.ReceiptStatusSuccessful
	out.ResultCode = "success"
	if !out.Success {
		out.ResultCode = "reverted"
	}
	if out.Type == ledger.TxTypeEscrowCreate {
		if id, ok := escrowContract.EscrowID(receipt, g.escrow); ok {
			out.Sequence = id
		}
	}
	return out, nil
}

// FindTransaction 节点不提供按业务引用检索交易，提交结果未知时需人工对账
func (g *Gateway) FindTransaction(context.Context, string, string) (*ledger.Transaction, error) {
	return nil, ledger.ErrLookupUnsupported
}

// describe 按接收方与调用数据识别交易类型
func (g *Gateway) describe(tx *types.Transaction) (*ledger.Transaction, error) {
	out := &ledger.Transaction{Type: ledger.TxTypeUnknown, Amount: decimal.Zero}
	if tx.To() == nil {
		return out, nil
	}
	to := *tx.To()
	data := tx.Data()

	if to == g.escrow {
		method, args, err := escrowContract.Decode(data)
		if err != nil {
			return nil, err
		}
		switch method {
		case "createEscrow":
			payee, _ := args[0].(common.Address)
			condition, _ := args[1].([32]byte)
			out.Type = ledger.TxTypeEscrowCreate
			out.Destination = payee.Hex()
			out.Condition = strings.ToUpper(common.Bytes2Hex(condition[:]))
			out.Amount = ledger.FromBaseUnits(tx.Value(), g.opts.Decimals)
			out.Asset = ledger.Asset{Code: g.opts.NativeAsset}
		case "finishEscrow":
			id, _ := args[0].(*big.Int)
			out.Type = ledger.TxTypeEscrowFinish
			if id != nil {
				out.Sequence = id.Uint64()
			}
		}
		return out, nil
	}

	if len(data) == 0 {
		out.Type = ledger.TxTypePayment
		out.Destination = to.Hex()
		out.Amount = ledger.FromBaseUnits(tx.Value(), g.opts.Decimals)
		out.Asset = ledger.Asset{Code: g.opts.NativeAsset}
		return out, nil
	}

	method, args, err := erc20Contract.Decode(data)
	if err != nil {
		return nil, err
	}
	if method == "transfer" {
		recipient, _ := args[0].(common.Address)
		value, _ := args[1].(*big.Int)
		out.Type = ledger.TxTypePayment
		out.Destination = recipient.Hex()
		out.Amount = ledger.FromBaseUnits(value, g.opts.Decimals)
		out.Asset = ledger.Asset{Code: "ERC20", Issuer: to.Hex()}
	}
	return out, nil
}

// CheckTrustline EVM 没有信任线，发行资产恒可接收，余额取自 balanceOf
func (g *Gateway) CheckTrustline(ctx context.Context, address string, asset ledger.Asset) (*ledger.Trustline, error) {
	balance, err := g.GetBalance(ctx, address, asset)
	if err != nil {
		return nil, err
	}
	return &ledger.Trustline{Exists: true, Balance: balance, Limit: decimal.Zero}, nil
}

func (g *Gateway) GetBalance(ctx context.Context, address string, asset ledger.Asset) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid address %q", address)
	}
	account := common.HexToAddress(address)

	if asset.IsNative() {
		wei, err := g.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return decimal.Zero, errors.Wrapf(ledger.ErrUnreachable, "balance %s: %v", address, err)
		}
		return ledger.FromBaseUnits(wei, g.opts.Decimals), nil
	}

	data, err := erc20Contract.Pack("balanceOf", account)
	if err != nil {
		return decimal.Zero, err
	}
	token := common.HexToAddress(asset.Issuer)
	res, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ledger.ErrUnreachable, "balanceOf %s: %v", address, err)
	}
	units, err := erc20Contract.UnpackUint("balanceOf", res)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.FromBaseUnits(units, g.opts.Decimals), nil
}

func conditionBytes(condition string) ([32]byte, error) {
	var out [32]byte
	raw, err := decodeHex(condition)
	if err != nil {
		return out, errors.Wrap(err, "decode condition")
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("condition must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
