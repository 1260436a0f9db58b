package repository

import (
	"context"
	"errors"
	"time"

	"github.com/blues/fundledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormStore 基于 gorm 的 Store 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 gorm 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

// 活动

func (s *GormStore) CreateCampaign(ctx context.Context, campaign *model.CampaignModel) error {
	return translate(s.db.WithContext(ctx).Create(campaign).Error)
}

func (s *GormStore) GetCampaign(ctx context.Context, id string) (*model.CampaignModel, error) {
	var campaign model.CampaignModel
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

func (s *GormStore) IncrementCampaignAmount(ctx context.Context, id string, amount decimal.Decimal) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.CampaignModel{}).
		Where("id = ? AND status = ? AND current_amount < goal_amount", id, model.CampaignStatusActive).
		Update("current_amount", gorm.Expr("current_amount + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) TransitionCampaignStatus(ctx context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.CampaignModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListReleasableCampaigns(ctx context.Context) ([]model.CampaignModel, error) {
	var campaigns []model.CampaignModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND current_amount >= goal_amount", model.CampaignStatusActive).
		Order("created_at ASC").
		Find(&campaigns).Error
	return campaigns, err
}

// 投资人

func (s *GormStore) CreateInvestor(ctx context.Context, investor *model.InvestorModel) error {
	return translate(s.db.WithContext(ctx).Create(investor).Error)
}

func (s *GormStore) GetInvestor(ctx context.Context, id string) (*model.InvestorModel, error) {
	var investor model.InvestorModel
	if err := s.db.WithContext(ctx).First(&investor, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &investor, nil
}

// 投资

func (s *GormStore) CreateInvestment(ctx context.Context, investment *model.InvestmentModel) error {
	return translate(s.db.WithContext(ctx).Create(investment).Error)
}

func (s *GormStore) GetInvestment(ctx context.Context, id string) (*model.InvestmentModel, error) {
	var investment model.InvestmentModel
	if err := s.db.WithContext(ctx).First(&investment, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &investment, nil
}

func (s *GormStore) ConfirmInvestment(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("id = ? AND transaction_hash IS NULL", id).
		Updates(map[string]interface{}{
			"transaction_hash": txHash,
			"status":           model.InvestmentStatusConfirmed,
			"confirmed_at":     at,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) SetEscrowCondition(ctx context.Context, id, condition, preimage string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("id = ? AND (escrow_condition IS NULL OR escrow_condition = '')", id).
		Updates(map[string]interface{}{
			"escrow_condition": condition,
			"escrow_preimage":  preimage,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RecordEscrowCreated(ctx context.Context, id string, sequence uint64, txHash string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("id = ? AND escrow_sequence IS NULL", id).
		Updates(map[string]interface{}{
			"escrow_sequence": sequence,
			"escrow_tx_hash":  txHash,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) SetEscrowFinishSubmitted(ctx context.Context, id string, at *time.Time) error {
	return s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("id = ?", id).
		Update("escrow_finish_submitted_at", at).Error
}

func (s *GormStore) MarkEscrowFinished(ctx context.Context, id, finishTxHash string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("id = ? AND escrow_finished = ?", id, false).
		Updates(map[string]interface{}{
			"escrow_finished":       true,
			"escrow_finished_at":    at,
			"escrow_finish_tx_hash": finishTxHash,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListConfirmedInvestments(ctx context.Context, campaignID string) ([]model.InvestmentModel, error) {
	var investments []model.InvestmentModel
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND transaction_hash IS NOT NULL", campaignID).
		Order("confirmed_at ASC, id ASC").
		Find(&investments).Error
	return investments, err
}

func (s *GormStore) ListInvestmentsByInvestor(ctx context.Context, investorID string) ([]model.InvestmentModel, error) {
	var investments []model.InvestmentModel
	err := s.db.WithContext(ctx).
		Where("investor_id = ?", investorID).
		Order("created_at DESC").
		Find(&investments).Error
	return investments, err
}

func (s *GormStore) SumConfirmedInvestments(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).Model(&model.InvestmentModel{}).
		Where("campaign_id = ? AND transaction_hash IS NOT NULL", campaignID).
		Select("COALESCE(SUM(amount), 0)").
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// 代币

func (s *GormStore) CreateToken(ctx context.Context, token *model.TokenModel) error {
	return translate(s.db.WithContext(ctx).Create(token).Error)
}

func (s *GormStore) GetTokenByCampaign(ctx context.Context, campaignID string) (*model.TokenModel, error) {
	var token model.TokenModel
	if err := s.db.WithContext(ctx).First(&token, "campaign_id = ?", campaignID).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (s *GormStore) TransitionTokenStatus(ctx context.Context, id string, from, to model.TokenStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.TokenModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) AddTokenDistributed(ctx context.Context, id string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&model.TokenModel{}).
		Where("id = ?", id).
		Update("distributed_amount", gorm.Expr("distributed_amount + ?", amount)).Error
}

func (s *GormStore) CreateTokenDistribution(ctx context.Context, distribution *model.TokenDistributionModel) error {
	return translate(s.db.WithContext(ctx).Create(distribution).Error)
}

func (s *GormStore) SetTokenDistributionSubmitted(ctx context.Context, id string, at *time.Time) error {
	return s.db.WithContext(ctx).Model(&model.TokenDistributionModel{}).
		Where("id = ?", id).
		Update("submitted_at", at).Error
}

func (s *GormStore) CompleteTokenDistribution(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.TokenDistributionModel{}).
		Where("id = ? AND status = ?", id, model.DistributionStatusPending).
		Updates(map[string]interface{}{
			"status":           model.DistributionStatusSuccess,
			"transaction_hash": txHash,
			"distributed_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListTokenDistributions(ctx context.Context, tokenID string) ([]model.TokenDistributionModel, error) {
	var distributions []model.TokenDistributionModel
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("created_at ASC, id ASC").
		Find(&distributions).Error
	return distributions, err
}

// 分红

func (s *GormStore) CreateDividend(ctx context.Context, dividend *model.DividendModel) error {
	return translate(s.db.WithContext(ctx).Create(dividend).Error)
}

func (s *GormStore) GetDividend(ctx context.Context, id string) (*model.DividendModel, error) {
	var dividend model.DividendModel
	if err := s.db.WithContext(ctx).First(&dividend, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &dividend, nil
}

func (s *GormStore) ListDividendsByCampaign(ctx context.Context, campaignID string) ([]model.DividendModel, error) {
	var dividends []model.DividendModel
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Find(&dividends).Error
	return dividends, err
}

func (s *GormStore) UpdateDividendOutcome(ctx context.Context, id string, status model.DividendStatus, distributed decimal.Decimal, completedAt *time.Time) error {
	return s.db.WithContext(ctx).Model(&model.DividendModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             status,
			"distributed_amount": distributed,
			"completed_at":       completedAt,
		}).Error
}

func (s *GormStore) CreateDividendPayments(ctx context.Context, payments []*model.DividendPaymentModel) error {
	if len(payments) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).CreateInBatches(payments, 100).Error)
}

func (s *GormStore) UpdateDividendPayment(ctx context.Context, payment *model.DividendPaymentModel) error {
	return s.db.WithContext(ctx).Model(&model.DividendPaymentModel{}).
		Where("id = ?", payment.Id).
		Updates(map[string]interface{}{
			"status":           payment.Status,
			"transaction_hash": payment.TransactionHash,
			"error_message":    payment.ErrorMessage,
			"submitted_at":     payment.SubmittedAt,
			"paid_at":          payment.PaidAt,
		}).Error
}

func (s *GormStore) ListDividendPayments(ctx context.Context, dividendID string) ([]model.DividendPaymentModel, error) {
	var payments []model.DividendPaymentModel
	err := s.db.WithContext(ctx).
		Where("dividend_id = ?", dividendID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

// 发件箱

func (s *GormStore) CreateEvent(ctx context.Context, event *model.EventModel) error {
	return translate(s.db.WithContext(ctx).Create(event).Error)
}

func (s *GormStore) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": at}).Error
}

func (s *GormStore) IncrementEventAttempts(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.EventModel{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (s *GormStore) ListPendingEvents(ctx context.Context, createdBefore time.Time, limit int) ([]model.EventModel, error) {
	var events []model.EventModel
	err := s.db.WithContext(ctx).
		Where("processed = ? AND created_at < ?", false, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
