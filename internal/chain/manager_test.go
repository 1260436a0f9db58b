package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEscrow = "0x00000000000000000000000000000000000E5C70"

type fakeBackend struct {
	mu       sync.Mutex
	chainID  *big.Int
	nonce    uint64
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	revert   bool
	balance  *big.Int
	nextID   int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(1337),
		txs:      map[common.Hash]*types.Transaction{},
		receipts: map[common.Hash]*types.Receipt{},
		balance:  big.NewInt(0),
		nextID:   41,
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error)  { return b.chainID, nil }
func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}

// SendTransaction 立即"出块"，createEscrow 调用附带 EscrowCreated 日志
func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonce++
	b.txs[tx.Hash()] = tx
	receipt := &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful}
	if b.revert {
		receipt.Status = types.ReceiptStatusFailed
	}
	if method, _, _ := escrowContract.Decode(tx.Data()); method == "createEscrow" {
		b.nextID++
		receipt.Logs = []*types.Log{{
			Address: *tx.To(),
			Topics: []common.Hash{
				escrowContract.abi.Events["EscrowCreated"].ID,
				common.BigToHash(big.NewInt(b.nextID)),
			},
		}}
	}
	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return b.balance, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(2_500_000).Bytes(), 32), nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeBackend, *ecdsa.PrivateKey, string) {
	t.Helper()
	backend := newFakeBackend()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	g := NewGateway(backend, Options{
		ChainID:        1337,
		EscrowContract: testEscrow,
		Decimals:       6,
		SubmitTimeout:  time.Second,
		PollInterval:   10 * time.Millisecond,
	})
	return g, backend, key, common.Bytes2Hex(crypto.FromECDSA(key))
}

func TestVerifyNativePayment(t *testing.T) {
	g, backend, key, hexKey := newTestGateway(t)
	platform := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	receipt, err := g.SendPayment(context.Background(), ledger.PaymentRequest{
		SenderKey:   hexKey,
		Destination: platform.Hex(),
		Amount:      decimal.RequireFromString("600"),
		Asset:       ledger.Asset{Code: "ETH"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), backend.nonce)

	tx, err := g.VerifyTransaction(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.True(t, tx.Verified)
	assert.True(t, tx.Success)
	assert.Equal(t, ledger.TxTypePayment, tx.Type)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), tx.Account)
	assert.Equal(t, platform.Hex(), tx.Destination)
	assert.True(t, decimal.RequireFromString("600").Equal(tx.Amount), tx.Amount.String())
	assert.True(t, tx.Asset.IsNative())
}

func TestCreateEscrowReturnsContractID(t *testing.T) {
	g, _, _, hexKey := newTestGateway(t)
	condition := "66687AADF862BD776C8FC18B8E9F8E20089714856EE233B3902A591D0D5F2925"
	payee := common.HexToAddress("0x00000000000000000000000000000000000000AA")

	receipt, err := g.CreateEscrow(context.Background(), ledger.CreateEscrowRequest{
		OwnerKey:    hexKey,
		Destination: payee.Hex(),
		Amount:      decimal.RequireFromString("500"),
		Condition:   condition,
		FinishAfter: time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), receipt.Sequence)

	tx, err := g.VerifyTransaction(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxTypeEscrowCreate, tx.Type)
	assert.Equal(t, condition, tx.Condition)
	assert.Equal(t, uint64(42), tx.Sequence)
	assert.Equal(t, payee.Hex(), tx.Destination)
	assert.True(t, decimal.RequireFromString("500").Equal(tx.Amount))
}

func TestTokenPaymentAndBalance(t *testing.T) {
	g, _, _, hexKey := newTestGateway(t)
	token := ledger.Asset{Code: "SOL", Issuer: "0x0000000000000000000000000000000000000707"}
	holder := "0x00000000000000000000000000000000000000BB"

	receipt, err := g.SendPayment(context.Background(), ledger.PaymentRequest{
		SenderKey:   hexKey,
		Destination: holder,
		Amount:      decimal.RequireFromString("12.5"),
		Asset:       token,
	})
	require.NoError(t, err)

	tx, err := g.VerifyTransaction(context.Background(), receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, ledger.TxTypePayment, tx.Type)
	assert.Equal(t, common.HexToAddress(holder).Hex(), tx.Destination)
	assert.Equal(t, common.HexToAddress(token.Issuer).Hex(), tx.Asset.Issuer)
	assert.True(t, decimal.RequireFromString("12.5").Equal(tx.Amount))

	tl, err := g.CheckTrustline(context.Background(), holder, token)
	require.NoError(t, err)
	assert.True(t, tl.Exists)
	assert.Equal(t, "2.5", tl.Balance.String())
}

func TestRevertedSubmissionIsRejected(t *testing.T) {
	g, backend, _, hexKey := newTestGateway(t)
	backend.revert = true

	_, err := g.SendPayment(context.Background(), ledger.PaymentRequest{
		SenderKey:   hexKey,
		Destination: "0x00000000000000000000000000000000000000BB",
		Amount:      decimal.NewFromInt(1),
		Asset:       ledger.Asset{Code: "ETH"},
	})
	require.Error(t, err)
	assert.Equal(t, "reverted", ledger.RejectionCode(err))
}

func TestVerifyUnknownHash(t *testing.T) {
	g, _, _, _ := newTestGateway(t)
	_, err := g.VerifyTransaction(context.Background(), "0xdeadbeef")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestFindTransactionUnsupported(t *testing.T) {
	g, _, _, _ := newTestGateway(t)
	_, err := g.FindTransaction(context.Background(), "0x01", ledger.Reference("dividend", "p1"))
	assert.ErrorIs(t, err, ledger.ErrLookupUnsupported)
}

func TestConditionBytes(t *testing.T) {
	_, err := conditionBytes("ABCD")
	assert.Error(t, err)

	c, err := conditionBytes("0x" + "00112233445566778899AABBCCDDEEFF00112233445566778899AABBCCDDEEFF")
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), c[15])
}
