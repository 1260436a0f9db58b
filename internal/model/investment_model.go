package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestorModel 投资人资料
type InvestorModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name          string `json:"name"`
	Email         string `json:"email" gorm:"index"`
	WalletAddress string `json:"wallet_address" gorm:"index"`
}

// TableName 自定义表名
func (InvestorModel) TableName() string {
	return "investor"
}

// InvestmentModel 投资记录，TransactionHash 在账本确认前为空
type InvestmentModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CampaignId      string           `json:"campaign_id" gorm:"type:varchar(36);index;not null"`
	InvestorId      string           `json:"investor_id" gorm:"type:varchar(36);index;not null"`
	Amount          decimal.Decimal  `json:"amount" gorm:"type:decimal(36,6);not null"`
	Status          InvestmentStatus `json:"status" gorm:"type:varchar(16);index;default:'PENDING'"`
	TransactionHash *string          `json:"transaction_hash" gorm:"uniqueIndex"`
	ConfirmedAt     *time.Time       `json:"confirmed_at"`

	// 托管信息
	EscrowCondition    string     `json:"escrow_condition"`
	EscrowPreimage     string     `json:"-"`
	EscrowSequence     *uint64    `json:"escrow_sequence"`
	EscrowTxHash       string     `json:"escrow_tx_hash"`
	EscrowFinished     bool       `json:"escrow_finished" gorm:"default:false"`
	EscrowFinishedAt   *time.Time `json:"escrow_finished_at"`
	EscrowFinishTxHash string     `json:"escrow_finish_tx_hash"`
	// 释放交易已提交但结果未落库
	EscrowFinishSubmittedAt *time.Time `json:"escrow_finish_submitted_at"`
}

// InvestmentStatus 投资状态
type InvestmentStatus string

const (
	InvestmentStatusPending   InvestmentStatus = "PENDING"   // 待确认
	InvestmentStatusConfirmed InvestmentStatus = "CONFIRMED" // 已确认
)

// EscrowState 托管状态
type EscrowState int

const (
	EscrowStateNone EscrowState = iota
	EscrowStateCreated
	EscrowStateFinished
)

func (s EscrowState) String() string {
	switch s {
	case EscrowStateCreated:
		return "CREATED"
	case EscrowStateFinished:
		return "FINISHED"
	default:
		return "NONE"
	}
}

// TableName 自定义表名
func (InvestmentModel) TableName() string {
	return "investment"
}

// Confirmed 是否已被账本确认
func (m *InvestmentModel) Confirmed() bool {
	return m.TransactionHash != nil && *m.TransactionHash != ""
}

// EscrowState 由托管字段推导当前状态
func (m *InvestmentModel) EscrowState() EscrowState {
	switch {
	case m.EscrowFinished:
		return EscrowStateFinished
	case m.EscrowSequence != nil && m.EscrowCondition != "":
		return EscrowStateCreated
	default:
		return EscrowStateNone
	}
}
