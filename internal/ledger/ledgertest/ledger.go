// Package ledgertest 测试用的可编排内存账本
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// Ledger 可编排的内存账本
type Ledger struct {
	mu sync.Mutex

	accounts     map[string]string // key -> address
	balances     map[string]decimal.Decimal
	trustlines   map[string]ledger.Trustline
	transactions map[string]*ledger.Transaction

	paymentErrs map[string]error // destination -> error
	finishErrs  map[uint64]error // sequence -> error
	trustErrs   map[string]error // address -> error
	balanceErr  error
	findErr     error

	finished map[uint64]bool

	Escrows  []ledger.CreateEscrowRequest
	Finishes []ledger.FinishEscrowRequest
	Payments []ledger.PaymentRequest

	nextSeq uint64
	nextTx  int
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{
		accounts:     map[string]string{},
		balances:     map[string]decimal.Decimal{},
		trustlines:   map[string]ledger.Trustline{},
		transactions: map[string]*ledger.Transaction{},
		paymentErrs:  map[string]error{},
		finishErrs:   map[uint64]error{},
		trustErrs:    map[string]error{},
		finished:     map[uint64]bool{},
		nextSeq:      100,
	}
}

var _ ledger.Gateway = (*Ledger)(nil)

func balanceKey(address string, asset ledger.Asset) string {
	return address + "|" + asset.String()
}

// RegisterAccount 绑定签名密钥与地址
func (l *Ledger) RegisterAccount(key, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[key] = address
}

func (l *Ledger) SetBalance(address string, asset ledger.Asset, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey(address, asset)] = amount
}

func (l *Ledger) SetTrustline(address string, asset ledger.Asset, limit decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trustlines[balanceKey(address, asset)] = ledger.Trustline{Exists: true, Balance: decimal.Zero, Limit: limit}
}

// AddTransaction 预置一笔已验证交易
func (l *Ledger) AddTransaction(tx ledger.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := tx
	l.transactions[tx.Hash] = &t
}

func (l *Ledger) FailPaymentsTo(destination string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paymentErrs[destination] = err
}

func (l *Ledger) FailFinish(sequence uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishErrs[sequence] = err
}

func (l *Ledger) FailTrustline(address string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trustErrs[address] = err
}

func (l *Ledger) FailBalance(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceErr = err
}

// FailFind 按引用查账返回 err，可用 ledger.ErrLookupUnsupported 模拟不支持检索的账本
func (l *Ledger) FailFind(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.findErr = err
}

// ClearFailures 清除所有注入的失败
func (l *Ledger) ClearFailures() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paymentErrs = map[string]error{}
	l.finishErrs = map[uint64]error{}
	l.trustErrs = map[string]error{}
	l.balanceErr = nil
	l.findErr = nil
}

// PaymentsTo 成功到账的支付笔数
func (l *Ledger) PaymentsTo(destination string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tx := range l.transactions {
		if tx.Type == ledger.TxTypePayment && tx.Destination == destination {
			n++
		}
	}
	return n
}

func (l *Ledger) FinishCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Finishes)
}

func (l *Ledger) PaymentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Payments)
}

func (l *Ledger) address(key string) string {
	if addr, ok := l.accounts[key]; ok {
		return addr
	}
	return key
}

func (l *Ledger) hash(prefix string) string {
	l.nextTx++
	return fmt.Sprintf("%s%06d", prefix, l.nextTx)
}

func (l *Ledger) CreateEscrow(_ context.Context, req ledger.CreateEscrowRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Escrows = append(l.Escrows, req)
	l.nextSeq++
	hash := l.hash("ESC")
	l.transactions[hash] = &ledger.Transaction{
		Hash:        hash,
		Verified:    true,
		Success:     true,
		Type:        ledger.TxTypeEscrowCreate,
		Account:     l.address(req.OwnerKey),
		Destination: req.Destination,
		Amount:      req.Amount,
		ResultCode:  "tesSUCCESS",
		Sequence:    l.nextSeq,
		Condition:   req.Condition,
	}
	return &ledger.Receipt{TxHash: hash, Sequence: l.nextSeq}, nil
}

// FinishEscrow 同一序列号只能释放一次，重复释放返回 tecNO_TARGET
func (l *Ledger) FinishEscrow(_ context.Context, req ledger.FinishEscrowRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Finishes = append(l.Finishes, req)
	if err := l.finishErrs[req.Sequence]; err != nil {
		return nil, err
	}
	if l.finished[req.Sequence] {
		return nil, ledger.Rejected(ledger.CodeNoTarget, "escrow does not exist")
	}
	l.finished[req.Sequence] = true

	hash := l.hash("FIN")
	l.transactions[hash] = &ledger.Transaction{
		Hash:       hash,
		Verified:   true,
		Success:    true,
		Type:       ledger.TxTypeEscrowFinish,
		Account:    l.address(req.ReleaserKey),
		ResultCode: "tesSUCCESS",
		Sequence:   req.Sequence,
		Reference:  req.Reference,
	}
	return &ledger.Receipt{TxHash: hash, Sequence: req.Sequence}, nil
}

func (l *Ledger) SendPayment(_ context.Context, req ledger.PaymentRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Payments = append(l.Payments, req)
	if err := l.paymentErrs[req.Destination]; err != nil {
		return nil, err
	}

	hash := l.hash("PAY")
	l.transactions[hash] = &ledger.Transaction{
		Hash:        hash,
		Verified:    true,
		Success:     true,
		Type:        ledger.TxTypePayment,
		Account:     l.address(req.SenderKey),
		Destination: req.Destination,
		Amount:      req.Amount,
		Asset:       req.Asset,
		ResultCode:  "tesSUCCESS",
		Reference:   req.Reference,
	}
	return &ledger.Receipt{TxHash: hash}, nil
}

func (l *Ledger) FindTransaction(_ context.Context, account, reference string) (*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.findErr != nil {
		return nil, l.findErr
	}
	for _, tx := range l.transactions {
		if reference != "" && tx.Reference == reference && tx.Account == account {
			out := *tx
			return &out, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (l *Ledger) VerifyTransaction(_ context.Context, txHash string) (*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[txHash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *tx
	return &out, nil
}

func (l *Ledger) CheckTrustline(_ context.Context, address string, asset ledger.Asset) (*ledger.Trustline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.trustErrs[address]; err != nil {
		return nil, err
	}
	if tl, ok := l.trustlines[balanceKey(address, asset)]; ok {
		return &tl, nil
	}
	return &ledger.Trustline{}, nil
}

func (l *Ledger) GetBalance(_ context.Context, address string, asset ledger.Asset) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceErr != nil {
		return decimal.Zero, l.balanceErr
	}
	return l.balances[balanceKey(address, asset)], nil
}
