package logic

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
)

// FundingResult 记账结果
type FundingResult struct {
	CampaignID       string          `json:"campaign_id"`
	NewTotal         decimal.Decimal `json:"new_total"`
	GoalAmount       decimal.Decimal `json:"goal_amount"`
	CrossedThreshold bool            `json:"crossed_threshold"`
}

// FundingTracker 累计已确认投资并检测目标达成
type FundingTracker struct {
	store     repository.Store
	locker    lock.Locker
	publisher Publisher
	now       func() time.Time
}

func NewFundingTracker(store repository.Store, locker lock.Locker, publisher Publisher) *FundingTracker {
	return &FundingTracker{store: store, locker: locker, publisher: publisher, now: time.Now}
}

// RecordConfirmedInvestment 累加活动已募金额
func (f *FundingTracker) RecordConfirmedInvestment(ctx context.Context, campaignID string, amount decimal.Decimal) (*FundingResult, error) {
	return f.RecordConfirmedInvestmentWith(ctx, campaignID, amount, nil)
}

// RecordConfirmedInvestmentWith 在同一事务内执行 apply 后累加
// 累加、达标检测与 ThresholdCrossed 发件箱记录在活动锁内串行，每个活动只会达标一次
func (f *FundingTracker) RecordConfirmedInvestmentWith(ctx context.Context, campaignID string, amount decimal.Decimal, apply func(tx repository.Store) error) (*FundingResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	unlock, err := acquire(ctx, f.locker, "campaign:"+campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *FundingResult
	var crossed event.Event
	err = f.store.Transaction(ctx, func(tx repository.Store) error {
		campaign, err := tx.GetCampaign(ctx, campaignID)
		if err != nil {
			return notFound(err, ErrCampaignNotFound)
		}
		if campaign.Status != model.CampaignStatusActive {
			return ErrCampaignNotActive
		}
		if campaign.Ended(f.now()) {
			return ErrCampaignEnded
		}
		if campaign.GoalReached() {
			return ErrGoalAlreadyReached
		}

		if apply != nil {
			if err := apply(tx); err != nil {
				return err
			}
		}

		applied, err := tx.IncrementCampaignAmount(ctx, campaignID, amount)
		if err != nil {
			return err
		}
		if !applied {
			return ErrGoalAlreadyReached
		}

		newTotal := campaign.CurrentAmount.Add(amount)
		result = &FundingResult{
			CampaignID:       campaignID,
			NewTotal:         newTotal,
			GoalAmount:       campaign.GoalAmount,
			CrossedThreshold: newTotal.GreaterThanOrEqual(campaign.GoalAmount),
		}
		if !result.CrossedThreshold {
			return nil
		}

		crossed, err = event.New(event.TypeThresholdCrossed, campaignID, event.ThresholdCrossed{
			CampaignID: campaignID,
			NewTotal:   newTotal.String(),
			GoalAmount: campaign.GoalAmount.String(),
		})
		if err != nil {
			return err
		}
		return tx.CreateEvent(ctx, outboxRecord(crossed))
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Campaign %s funded %s/%s", campaignID, result.NewTotal, result.GoalAmount)
	if result.CrossedThreshold {
		logger.Info("Campaign %s crossed its funding goal", campaignID)
		if f.publisher != nil {
			if err := f.publisher.Publish(ctx, crossed); err != nil {
				logger.Warn("Failed to publish ThresholdCrossed for campaign %s, replay will retry: %v", campaignID, err)
			}
		}
	}
	return result, nil
}
