package logic

import (
	"context"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateCampaignRequest 创建活动参数
type CreateCampaignRequest struct {
	Title       string
	Description string
	OwnerID     string
	GoalAmount  decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
}

// CreateInvestorRequest 登记投资人参数
type CreateInvestorRequest struct {
	Name          string
	Email         string
	WalletAddress string
}

// CampaignView 活动及募资进度
type CampaignView struct {
	*model.CampaignModel
	Progress decimal.Decimal `json:"progress"`
	Ended    bool            `json:"ended"`
}

// CampaignLogic 活动与投资人管理
type CampaignLogic struct {
	store repository.Store
	now   func() time.Time
}

func NewCampaignLogic(store repository.Store) *CampaignLogic {
	return &CampaignLogic{store: store, now: time.Now}
}

// CreateCampaign 创建草稿活动
func (c *CampaignLogic) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*model.CampaignModel, error) {
	if err := validateCampaign(req); err != nil {
		return nil, err
	}

	start := req.StartDate
	if start.IsZero() {
		start = c.now()
	}
	campaign := &model.CampaignModel{
		Id:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		OwnerId:       req.OwnerID,
		GoalAmount:    req.GoalAmount,
		CurrentAmount: decimal.Zero,
		StartDate:     start,
		EndDate:       req.EndDate,
		Status:        model.CampaignStatusDraft,
	}
	if err := c.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	logger.Info("Created campaign %s (goal: %s)", campaign.Id, campaign.GoalAmount)
	return campaign, nil
}

func validateCampaign(req CreateCampaignRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return ErrMissingField.Withf("title is required")
	}
	if !req.GoalAmount.IsPositive() {
		return ErrInvalidAmount.Withf("goal amount must be positive")
	}
	if req.EndDate.IsZero() {
		return ErrMissingField.Withf("end date is required")
	}
	if !req.StartDate.IsZero() && !req.EndDate.After(req.StartDate) {
		return ErrMissingField.Withf("end date must be after start date")
	}
	return nil
}

// ActivateCampaign DRAFT -> ACTIVE
func (c *CampaignLogic) ActivateCampaign(ctx context.Context, id string) (*model.CampaignModel, error) {
	ok, err := c.store.TransitionCampaignStatus(ctx, id, model.CampaignStatusDraft, model.CampaignStatusActive)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	campaign, err := c.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	if !ok {
		return nil, ErrInvalidCampaignStatus.Withf("campaign is %s, only DRAFT campaigns can be activated", campaign.Status)
	}
	logger.Info("Activated campaign %s", id)
	return campaign, nil
}

// GetCampaign 活动详情
func (c *CampaignLogic) GetCampaign(ctx context.Context, id string) (*CampaignView, error) {
	campaign, err := c.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	return &CampaignView{CampaignModel: campaign, Progress: campaign.Progress(), Ended: campaign.Ended(c.now())}, nil
}

// CreateInvestor 登记投资人
func (c *CampaignLogic) CreateInvestor(ctx context.Context, req CreateInvestorRequest) (*model.InvestorModel, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrMissingField.Withf("name is required")
	}
	investor := &model.InvestorModel{
		Id:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		Email:         req.Email,
		WalletAddress: strings.TrimSpace(req.WalletAddress),
	}
	if err := c.store.CreateInvestor(ctx, investor); err != nil {
		return nil, err
	}
	return investor, nil
}

// GetInvestor 查询投资人
func (c *CampaignLogic) GetInvestor(ctx context.Context, id string) (*model.InvestorModel, error) {
	investor, err := c.store.GetInvestor(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrInvestorNotFound)
	}
	return investor, nil
}
