// Package ledger 外部账本能力接口，实现见 ledger/xrpl 与 chain
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset 资产，Issuer 为空表示原生资产
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

// IsNative 原生资产无需信任线
func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

func (a Asset) String() string {
	if a.IsNative() {
		return a.Code
	}
	return a.Code + "." + a.Issuer
}

// TxType 交易类型
type TxType int

const (
	TxTypeUnknown TxType = iota
	TxTypePayment
	TxTypeEscrowCreate
	TxTypeEscrowFinish
	TxTypeTrustSet
)

var txTypeNames = map[TxType]string{
	TxTypeUnknown:      "Unknown",
	TxTypePayment:      "Payment",
	TxTypeEscrowCreate: "EscrowCreate",
	TxTypeEscrowFinish: "EscrowFinish",
	TxTypeTrustSet:     "TrustSet",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return txTypeNames[TxTypeUnknown]
}

// ParseTxType 大小写不敏感，未知类型返回 TxTypeUnknown
func ParseTxType(s string) TxType {
	for t, name := range txTypeNames {
		if strings.EqualFold(name, s) {
			return t
		}
	}
	return TxTypeUnknown
}

// Transaction 账本交易查询结果
type Transaction struct {
	Hash        string          `json:"hash"`
	Verified    bool            `json:"verified"` // 已进入最终确认的账本
	Success     bool            `json:"success"`
	Type        TxType          `json:"type"`
	Account     string          `json:"account"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Asset       Asset           `json:"asset"`
	ResultCode  string          `json:"result_code"`
	Sequence    uint64          `json:"sequence"`
	Condition   string          `json:"condition,omitempty"` // EscrowCreate 的条件哈希
	Reference   string          `json:"reference,omitempty"` // 提交时携带的业务引用
}

// Receipt 提交成功的回执
type Receipt struct {
	TxHash   string `json:"tx_hash"`
	Sequence uint64 `json:"sequence,omitempty"`
}

// Trustline 信任线
type Trustline struct {
	Exists  bool            `json:"exists"`
	Balance decimal.Decimal `json:"balance"`
	Limit   decimal.Decimal `json:"limit"`
}

type CreateEscrowRequest struct {
	OwnerKey    string
	Destination string
	Amount      decimal.Decimal
	Condition   string // SHA-256 十六进制
	FinishAfter time.Time
}

type FinishEscrowRequest struct {
	ReleaserKey string
	Owner       string
	Sequence    uint64
	Condition   string
	Fulfillment string // 原像十六进制
	Reference   string
}

type PaymentRequest struct {
	SenderKey   string
	Destination string
	Amount      decimal.Decimal
	Asset       Asset
	Reference   string
}

// Reference 业务引用，随交易写入账本，用于提交结果未知时查账
func Reference(kind, id string) string {
	return kind + ":" + id
}

// EscrowSubmitter 托管创建与释放
type EscrowSubmitter interface {
	CreateEscrow(ctx context.Context, req CreateEscrowRequest) (*Receipt, error)
	FinishEscrow(ctx context.Context, req FinishEscrowRequest) (*Receipt, error)
}

// PaymentSender 非成功结果码返回 *RejectedError
type PaymentSender interface {
	SendPayment(ctx context.Context, req PaymentRequest) (*Receipt, error)
}

// TransactionVerifier 账本尚无记录时返回 ErrNotFound
type TransactionVerifier interface {
	VerifyTransaction(ctx context.Context, txHash string) (*Transaction, error)
}

// TransactionFinder 按引用查找 account 提交的交易，没有记录时返回 ErrNotFound，
// 无法按引用检索的账本返回 ErrLookupUnsupported
type TransactionFinder interface {
	FindTransaction(ctx context.Context, account, reference string) (*Transaction, error)
}

type TrustlineReader interface {
	CheckTrustline(ctx context.Context, address string, asset Asset) (*Trustline, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, address string, asset Asset) (decimal.Decimal, error)
}

// Gateway 完整账本能力
type Gateway interface {
	EscrowSubmitter
	PaymentSender
	TransactionVerifier
	TransactionFinder
	TrustlineReader
	BalanceReader
}
