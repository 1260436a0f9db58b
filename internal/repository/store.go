package repository

import (
	"context"
	"errors"
	"time"

	"github.com/blues/fundledger/internal/model"
	"github.com/shopspring/decimal"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// ErrDuplicate 唯一约束冲突
var ErrDuplicate = errors.New("duplicate record")

// CampaignRepository 活动存储
type CampaignRepository interface {
	CreateCampaign(ctx context.Context, campaign *model.CampaignModel) error
	GetCampaign(ctx context.Context, id string) (*model.CampaignModel, error)
	// IncrementCampaignAmount 仅当活动 ACTIVE 且未达标时累加，返回是否生效
	IncrementCampaignAmount(ctx context.Context, id string, amount decimal.Decimal) (bool, error)
	// TransitionCampaignStatus 比较并交换状态
	TransitionCampaignStatus(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error)
	// ListReleasableCampaigns ACTIVE 且已达标的活动
	ListReleasableCampaigns(ctx context.Context) ([]model.CampaignModel, error)
}

// InvestorRepository 投资人存储
type InvestorRepository interface {
	CreateInvestor(ctx context.Context, investor *model.InvestorModel) error
	GetInvestor(ctx context.Context, id string) (*model.InvestorModel, error)
}

// InvestmentRepository 投资存储，所有写操作都是条件更新
type InvestmentRepository interface {
	CreateInvestment(ctx context.Context, investment *model.InvestmentModel) error
	GetInvestment(ctx context.Context, id string) (*model.InvestmentModel, error)
	// ConfirmInvestment 仅当交易哈希为空时写入
	ConfirmInvestment(ctx context.Context, id, txHash string, at time.Time) (bool, error)
	// SetEscrowCondition 仅当条件为空时写入
	SetEscrowCondition(ctx context.Context, id, condition, preimage string) (bool, error)
	// RecordEscrowCreated 仅当序列号为空时写入
	RecordEscrowCreated(ctx context.Context, id string, sequence uint64, txHash string) (bool, error)
	// SetEscrowFinishSubmitted 记录或清除释放交易的提交时间
	SetEscrowFinishSubmitted(ctx context.Context, id string, at *time.Time) error
	// MarkEscrowFinished 仅当未完成时写入
	MarkEscrowFinished(ctx context.Context, id, finishTxHash string, at time.Time) (bool, error)
	ListConfirmedInvestments(ctx context.Context, campaignID string) ([]model.InvestmentModel, error)
	// ListInvestmentsByInvestor 投资人的全部投资，新的在前
	ListInvestmentsByInvestor(ctx context.Context, investorID string) ([]model.InvestmentModel, error)
	SumConfirmedInvestments(ctx context.Context, campaignID string) (decimal.Decimal, error)
}

// TokenRepository 代币存储
type TokenRepository interface {
	CreateToken(ctx context.Context, token *model.TokenModel) error
	GetTokenByCampaign(ctx context.Context, campaignID string) (*model.TokenModel, error)
	TransitionTokenStatus(ctx context.Context, id string, from, to model.TokenStatus) (bool, error)
	AddTokenDistributed(ctx context.Context, id string, amount decimal.Decimal) error
	// CreateTokenDistribution 写入 PENDING 占位，同一代币同一地址唯一
	CreateTokenDistribution(ctx context.Context, distribution *model.TokenDistributionModel) error
	SetTokenDistributionSubmitted(ctx context.Context, id string, at *time.Time) error
	// CompleteTokenDistribution 仅当记录仍为 PENDING 时转为 SUCCESS
	CompleteTokenDistribution(ctx context.Context, id, txHash string, at time.Time) (bool, error)
	ListTokenDistributions(ctx context.Context, tokenID string) ([]model.TokenDistributionModel, error)
}

// DividendRepository 分红存储
type DividendRepository interface {
	CreateDividend(ctx context.Context, dividend *model.DividendModel) error
	GetDividend(ctx context.Context, id string) (*model.DividendModel, error)
	ListDividendsByCampaign(ctx context.Context, campaignID string) ([]model.DividendModel, error)
	UpdateDividendOutcome(ctx context.Context, id string, status model.DividendStatus, distributed decimal.Decimal, completedAt *time.Time) error
	CreateDividendPayments(ctx context.Context, payments []*model.DividendPaymentModel) error
	UpdateDividendPayment(ctx context.Context, payment *model.DividendPaymentModel) error
	ListDividendPayments(ctx context.Context, dividendID string) ([]model.DividendPaymentModel, error)
}

// EventRepository 发件箱存储
type EventRepository interface {
	CreateEvent(ctx context.Context, event *model.EventModel) error
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error
	IncrementEventAttempts(ctx context.Context, id string) error
	ListPendingEvents(ctx context.Context, createdBefore time.Time, limit int) ([]model.EventModel, error)
}

// Store 核心逻辑依赖的事务性记录存储
type Store interface {
	CampaignRepository
	InvestorRepository
	InvestmentRepository
	TokenRepository
	DividendRepository
	EventRepository

	// Transaction 在单个事务内执行 fn，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
