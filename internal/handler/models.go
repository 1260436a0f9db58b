package handler

import (
	"time"

	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ErrorDetail 业务错误详情
type ErrorDetail struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// 活动与投资人

type CreateCampaignRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	OwnerID     string          `json:"owner_id"`
	GoalAmount  decimal.Decimal `json:"goal_amount"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
}

type CreateInvestorRequest struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
}

// 投资与托管

type CreateInvestmentRequest struct {
	CampaignID string          `json:"campaign_id" binding:"required"`
	InvestorID string          `json:"investor_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
}

type ConfirmInvestmentRequest struct {
	TransactionHash string `json:"transaction_hash" binding:"required"`
}

type CreateEscrowRequest struct {
	OwnerKey    string    `json:"owner_key" binding:"required"`
	FinishAfter time.Time `json:"finish_after"`
}

// 代币

type IssueTokenRequest struct {
	Name          string           `json:"name"`
	Symbol        string           `json:"symbol"`
	Description   string           `json:"description"`
	IssuerAddress string           `json:"issuer_address"`
	TotalSupply   *decimal.Decimal `json:"total_supply"`
}

// 分红

type CreateDividendRequest struct {
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Asset            string          `json:"asset" binding:"required"`
	IssuerAddress    string          `json:"issuer_address"`
	DistributionType string          `json:"distribution_type" binding:"required"`
}
