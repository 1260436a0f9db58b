package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TokenModel 活动份额代币，每个活动最多一个
type TokenModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId        string          `json:"campaign_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Name              string          `json:"name"`
	Symbol            string          `json:"symbol" gorm:"type:varchar(40);not null"`
	IssuerAddress     string          `json:"issuer_address" gorm:"not null"`
	TotalSupply       decimal.Decimal `json:"total_supply" gorm:"type:decimal(36,6);not null"`
	DistributedAmount decimal.Decimal `json:"distributed_amount" gorm:"type:decimal(36,6);not null;default:0"`
	Status            TokenStatus     `json:"status" gorm:"type:varchar(16);default:'ISSUED'"`
	Metadata          datatypes.JSON  `json:"metadata"`
	IssuedAt          time.Time       `json:"issued_at"`
}

// TokenStatus 代币状态，没有失败终态，DISTRIBUTING 表示可重试
type TokenStatus string

const (
	TokenStatusIssued       TokenStatus = "ISSUED"
	TokenStatusDistributing TokenStatus = "DISTRIBUTING"
	TokenStatusDistributed  TokenStatus = "DISTRIBUTED"
)

// TableName 自定义表名
func (TokenModel) TableName() string {
	return "token"
}

// TokenDistributionModel 代币发放记录。转账前以 PENDING 占位，账本转账成功后才转为 SUCCESS 并计入已发放量
type TokenDistributionModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TokenId         string             `json:"token_id" gorm:"type:varchar(36);uniqueIndex:idx_token_holder;not null"`
	InvestorId      string             `json:"investor_id" gorm:"type:varchar(36)"`
	InvestorAddress string             `json:"investor_address" gorm:"uniqueIndex:idx_token_holder;not null"`
	Amount          decimal.Decimal    `json:"amount" gorm:"type:decimal(36,6);not null"`
	Status          DistributionStatus `json:"status" gorm:"type:varchar(16);index;default:'PENDING'"`
	TransactionHash string             `json:"transaction_hash"`
	SubmittedAt     *time.Time         `json:"submitted_at"` // 非空表示转账已提交但结果未落库
	DistributedAt   *time.Time         `json:"distributed_at"`
}

// DistributionStatus 发放记录状态
type DistributionStatus string

const (
	DistributionStatusPending DistributionStatus = "PENDING"
	DistributionStatusSuccess DistributionStatus = "SUCCESS"
)

// Settled 已确认到账
func (d TokenDistributionModel) Settled() bool {
	return d.Status == DistributionStatusSuccess
}

// TableName 自定义表名
func (TokenDistributionModel) TableName() string {
	return "token_distribution"
}
