package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DividendModel 分红批次
type DividendModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId        string           `json:"campaign_id" gorm:"type:varchar(36);index;not null"`
	TotalAmount       decimal.Decimal  `json:"total_amount" gorm:"type:decimal(36,6);not null"`
	Asset             string           `json:"asset" gorm:"type:varchar(40);not null"`
	IssuerAddress     string           `json:"issuer_address"`
	DistributionType  DistributionType `json:"distribution_type" gorm:"type:varchar(16);not null"`
	Status            DividendStatus   `json:"status" gorm:"type:varchar(16);index;default:'DISTRIBUTING'"`
	DistributedAmount decimal.Decimal  `json:"distributed_amount" gorm:"type:decimal(36,6);not null;default:0"`
	CompletedAt       *time.Time       `json:"completed_at"`
}

// DividendStatus 分红状态
type DividendStatus string

const (
	DividendStatusDistributing DividendStatus = "DISTRIBUTING" // 发放中
	DividendStatusDistributed  DividendStatus = "DISTRIBUTED"  // 全部成功
	DividendStatusPartial      DividendStatus = "PARTIAL"      // 部分成功
	DividendStatusFailed       DividendStatus = "FAILED"       // 全部失败
)

// TableName 自定义表名
func (DividendModel) TableName() string {
	return "dividend"
}

// DistributionType 分红计算口径
type DistributionType string

const (
	DistributionByInvestment DistributionType = "BY_INVESTMENT"
	DistributionByTokens     DistributionType = "BY_TOKENS"
)

// ParseDistributionType 解析分红口径，大小写不敏感
func ParseDistributionType(s string) (DistributionType, error) {
	switch DistributionType(strings.ToUpper(strings.TrimSpace(s))) {
	case DistributionByInvestment:
		return DistributionByInvestment, nil
	case DistributionByTokens:
		return DistributionByTokens, nil
	default:
		return "", fmt.Errorf("unknown distribution type %q", s)
	}
}

// DividendPaymentModel 单笔分红支付
type DividendPaymentModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DividendId      string          `json:"dividend_id" gorm:"type:varchar(36);index;not null"`
	InvestorId      string          `json:"investor_id" gorm:"type:varchar(36)"`
	InvestorAddress string          `json:"investor_address" gorm:"not null"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(36,6);not null"`
	Status          PaymentStatus   `json:"status" gorm:"type:varchar(16);index;default:'PENDING'"`
	TransactionHash string          `json:"transaction_hash"`
	ErrorMessage    string          `json:"error_message" gorm:"type:text"`
	SubmittedAt     *time.Time      `json:"submitted_at"` // 非空表示已提交账本，结果需查账确认
	PaidAt          *time.Time      `json:"paid_at"`
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// TableName 自定义表名
func (DividendPaymentModel) TableName() string {
	return "dividend_payment"
}
