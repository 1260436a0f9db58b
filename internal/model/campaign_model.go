package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CampaignModel 募资活动
type CampaignModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	OwnerId     string `json:"owner_id" gorm:"type:varchar(36);index"`

	// 募资信息
	GoalAmount    decimal.Decimal `json:"goal_amount" gorm:"type:decimal(36,6);not null"`
	CurrentAmount decimal.Decimal `json:"current_amount" gorm:"type:decimal(36,6);not null;default:0"`

	// 时间信息
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date" gorm:"not null"`

	Status CampaignStatus `json:"status" gorm:"type:varchar(16);index;default:'DRAFT'"`
}

// CampaignStatus 活动状态
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"     // 草稿
	CampaignStatusActive    CampaignStatus = "ACTIVE"    // 募资中
	CampaignStatusFunded    CampaignStatus = "FUNDED"    // 已达标，托管已释放
	CampaignStatusCompleted CampaignStatus = "COMPLETED" // 已完成
	CampaignStatusCancelled CampaignStatus = "CANCELLED" // 已取消
)

// TableName 自定义表名
func (CampaignModel) TableName() string {
	return "campaign"
}

// Ended 活动结束时间已过
func (c *CampaignModel) Ended(now time.Time) bool {
	return !c.EndDate.IsZero() && now.After(c.EndDate)
}

// GoalReached 已募金额达到目标
func (c *CampaignModel) GoalReached() bool {
	return c.CurrentAmount.GreaterThanOrEqual(c.GoalAmount)
}

// Progress 募资进度百分比，保留两位小数
func (c *CampaignModel) Progress() decimal.Decimal {
	if !c.GoalAmount.IsPositive() {
		return decimal.Zero
	}
	return c.CurrentAmount.Div(c.GoalAmount).Mul(decimal.NewFromInt(100)).Round(2)
}
