package logic

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/batch"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
)

// 托管释放失败原因码
const (
	reasonInvestorAddressMissing = "investor_address_missing"
	reasonEscrowNotCreated       = "escrow_not_created"
	reasonRecordFailed           = "record_failed"
)

// CreateEscrowCondition 生成 32 字节随机原像及其 SHA-256 条件，均为大写十六进制
func CreateEscrowCondition() (condition, preimage string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("generate escrow preimage: %w", err)
	}
	sum := sha256.Sum256(secret)
	return strings.ToUpper(hex.EncodeToString(sum[:])), strings.ToUpper(hex.EncodeToString(secret)), nil
}

// EscrowManager 托管生命周期 NONE -> CREATED -> FINISHED
type EscrowManager struct {
	store     repository.Store
	gateway   ledger.Gateway
	locker    lock.Locker
	publisher Publisher
	opts      Options
	now       func() time.Time
}

func NewEscrowManager(store repository.Store, gateway ledger.Gateway, locker lock.Locker, publisher Publisher, opts Options) *EscrowManager {
	return &EscrowManager{store: store, gateway: gateway, locker: locker, publisher: publisher, opts: opts, now: time.Now}
}

// PrepareEscrow 为投资生成托管条件，已有条件时原样返回
func (m *EscrowManager) PrepareEscrow(ctx context.Context, investmentID string) (*model.InvestmentModel, error) {
	inv, err := m.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return nil, notFound(err, ErrInvestmentNotFound)
	}
	if inv.EscrowCondition != "" {
		return inv, nil
	}

	condition, preimage, err := CreateEscrowCondition()
	if err != nil {
		return nil, err
	}
	if _, err := m.store.SetEscrowCondition(ctx, investmentID, condition, preimage); err != nil {
		return nil, err
	}
	// 并发生成时以先写入者为准
	return m.store.GetInvestment(ctx, investmentID)
}

// CreateEscrow 由平台代为提交托管创建交易
func (m *EscrowManager) CreateEscrow(ctx context.Context, investmentID, ownerKey string, finishAfter time.Time) (*model.InvestmentModel, error) {
	if ownerKey == "" {
		return nil, ErrMissingField.Withf("owner key is required")
	}
	inv, err := m.PrepareEscrow(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv.EscrowState() != model.EscrowStateNone {
		return nil, ErrEscrowAlreadyCreated
	}
	if finishAfter.IsZero() {
		finishAfter = m.now().Add(m.opts.EscrowFinishAfter)
	}

	receipt, err := m.gateway.CreateEscrow(ctx, ledger.CreateEscrowRequest{
		OwnerKey:    ownerKey,
		Destination: m.opts.PlatformAddress,
		Amount:      inv.Amount,
		Condition:   inv.EscrowCondition,
		FinishAfter: finishAfter,
	})
	if err != nil {
		return nil, ledgerError(err)
	}

	recorded, err := m.store.RecordEscrowCreated(ctx, investmentID, receipt.Sequence, receipt.TxHash)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return nil, ErrEscrowAlreadyCreated
	}
	logger.Info("Created escrow for investment %s (sequence: %d, tx: %s)", investmentID, receipt.Sequence, receipt.TxHash)
	return m.store.GetInvestment(ctx, investmentID)
}

// ReleaseEscrow 释放单笔托管，已完成时为空操作；失败只体现在返回项中
func (m *EscrowManager) ReleaseEscrow(ctx context.Context, inv *model.InvestmentModel) batch.Item {
	key := inv.Id
	unlock, err := m.locker.Lock(ctx, "escrow-item:"+inv.Id)
	if err != nil {
		return batch.Failure(key, "", inv.Amount, ErrLockUnavailable.Reason, err)
	}
	defer unlock()

	// 以存储中的最新状态为准
	current, err := m.store.GetInvestment(ctx, inv.Id)
	if err != nil {
		return batch.Failure(key, "", inv.Amount, ReasonOf(notFound(err, ErrInvestmentNotFound)), err)
	}
	if current.EscrowFinished {
		return batch.Success(key, "", current.Amount, current.EscrowFinishTxHash)
	}
	if current.EscrowState() != model.EscrowStateCreated {
		return batch.Failure(key, "", current.Amount, reasonEscrowNotCreated, ErrEscrowNotCreated)
	}

	owner, err := m.resolveOwner(ctx, current)
	if err != nil {
		return batch.Failure(key, "", current.Amount, ReasonOf(err), err)
	}

	reference := ledger.Reference("escrow", current.Id)
	// 上次提交结果未知，先查账
	if current.EscrowFinishSubmittedAt != nil {
		tx, err := settledOnLedger(ctx, m.gateway, m.opts.PlatformAddress, reference)
		if err != nil {
			logger.Warn("Escrow %s release submitted at %s is unconfirmed: %v", current.Id, current.EscrowFinishSubmittedAt.Format(time.RFC3339), err)
			return batch.Failure(key, owner, current.Amount, reasonReleaseUnconfirmed, err)
		}
		if tx != nil {
			return m.recordFinished(ctx, current, owner, tx.Hash)
		}
	}

	submittedAt := m.now()
	if err := m.store.SetEscrowFinishSubmitted(ctx, current.Id, &submittedAt); err != nil {
		return batch.Failure(key, owner, current.Amount, reasonRecordFailed, err)
	}
	receipt, err := m.gateway.FinishEscrow(ctx, ledger.FinishEscrowRequest{
		ReleaserKey: m.opts.PlatformSecret,
		Owner:       owner,
		Sequence:    *current.EscrowSequence,
		Condition:   current.EscrowCondition,
		Fulfillment: current.EscrowPreimage,
		Reference:   reference,
	})
	if err != nil {
		// 托管已不存在，可能是此前的释放已生效
		if ledger.RejectionCode(err) == ledger.CodeNoTarget {
			if tx, lookupErr := settledOnLedger(ctx, m.gateway, m.opts.PlatformAddress, reference); lookupErr == nil && tx != nil {
				return m.recordFinished(ctx, current, owner, tx.Hash)
			}
		}
		if definitelyRejected(err) {
			if clearErr := m.store.SetEscrowFinishSubmitted(ctx, current.Id, nil); clearErr != nil {
				logger.Warn("Failed to clear release marker for escrow %s: %v", current.Id, clearErr)
			}
		}
		return batch.Failure(key, owner, current.Amount, ReasonOf(err), err)
	}
	return m.recordFinished(ctx, current, owner, receipt.TxHash)
}

// recordFinished 账本释放已生效，写入完成状态
func (m *EscrowManager) recordFinished(ctx context.Context, inv *model.InvestmentModel, owner, txHash string) batch.Item {
	err := persist(ctx, m.opts, "escrow release "+inv.Id, func() error {
		_, err := m.store.MarkEscrowFinished(ctx, inv.Id, txHash, m.now())
		return err
	})
	if err != nil {
		logger.Error("Escrow %s finished on ledger (tx: %s) but could not be recorded: %v", inv.Id, txHash, err)
		return batch.Failure(inv.Id, owner, inv.Amount, reasonRecordFailed, fmt.Errorf("release %s not recorded: %w", txHash, err))
	}
	return batch.Success(inv.Id, owner, inv.Amount, txHash)
}

// resolveOwner 投资人钱包地址，缺失时回退到托管创建交易的发起账户
func (m *EscrowManager) resolveOwner(ctx context.Context, inv *model.InvestmentModel) (string, error) {
	investor, err := m.store.GetInvestor(ctx, inv.InvestorId)
	if err == nil && investor.WalletAddress != "" {
		return investor.WalletAddress, nil
	}

	if inv.EscrowTxHash != "" {
		tx, err := m.gateway.VerifyTransaction(ctx, inv.EscrowTxHash)
		if err != nil {
			return "", ledgerError(err)
		}
		if tx.Account != "" {
			return tx.Account, nil
		}
	}
	return "", &Error{Kind: KindPrecondition, Reason: reasonInvestorAddressMissing, Message: "investor settlement address is missing"}
}

// ReleaseCampaignEscrows 释放活动下所有未完成托管，全部成功后活动转为 FUNDED
func (m *EscrowManager) ReleaseCampaignEscrows(ctx context.Context, campaignID string) (*batch.Result, error) {
	unlock, err := acquire(ctx, m.locker, "escrow:"+campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	if campaign.Status == model.CampaignStatusFunded {
		result := batch.Summarize(nil)
		return &result, nil
	}
	if campaign.Status != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}
	if !campaign.GoalReached() {
		return nil, ErrGoalNotReached
	}

	investments, err := m.store.ListConfirmedInvestments(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	pending := make([]model.InvestmentModel, 0, len(investments))
	for _, inv := range investments {
		if inv.EscrowSequence != nil && !inv.EscrowFinished {
			pending = append(pending, inv)
		}
	}

	logger.Info("Releasing %d escrows for campaign %s", len(pending), campaignID)
	items := batch.Run(ctx, pending, m.opts.Concurrency, func(ctx context.Context, inv model.InvestmentModel) batch.Item {
		return m.ReleaseEscrow(ctx, &inv)
	})
	result := batch.Summarize(items)
	for _, f := range result.Failures {
		logger.Warn("Escrow release failed for investment %s: %s %s", f.Key, f.Reason, f.Message)
	}

	funded := false
	if result.Clean() {
		funded, err = m.store.TransitionCampaignStatus(ctx, campaignID, model.CampaignStatusActive, model.CampaignStatusFunded)
		if err != nil {
			return &result, err
		}
	}
	logger.Info("Escrow release for campaign %s: total=%d succeeded=%d failed=%d funded=%t",
		campaignID, result.Total, result.Succeeded, result.Failed, funded)

	publish(ctx, m.publisher, event.TypeEscrowsReleased, campaignID, event.EscrowsReleased{
		CampaignID: campaignID,
		Total:      result.Total,
		Succeeded:  result.Succeeded,
		Failed:     result.Failed,
		Funded:     funded,
	})
	return &result, nil
}

// CampaignRelease 单个活动的释放结果
type CampaignRelease struct {
	CampaignID string        `json:"campaign_id"`
	Result     *batch.Result `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CheckAndReleaseEscrows 扫描已达标但未释放的活动
func (m *EscrowManager) CheckAndReleaseEscrows(ctx context.Context) ([]CampaignRelease, error) {
	campaigns, err := m.store.ListReleasableCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	releases := make([]CampaignRelease, 0, len(campaigns))
	for _, c := range campaigns {
		result, err := m.ReleaseCampaignEscrows(ctx, c.Id)
		release := CampaignRelease{CampaignID: c.Id, Result: result}
		if err != nil {
			logger.Error("Failed to release escrows for campaign %s: %v", c.Id, err)
			release.Error = err.Error()
		}
		releases = append(releases, release)
	}
	return releases, nil
}

// ThresholdCrossedProcessor 达标事件触发托管释放，批次无失败时确认事件
type ThresholdCrossedProcessor struct {
	escrow *EscrowManager
	outbox *Outbox
}

func NewThresholdCrossedProcessor(escrow *EscrowManager, outbox *Outbox) *ThresholdCrossedProcessor {
	return &ThresholdCrossedProcessor{escrow: escrow, outbox: outbox}
}

func (p *ThresholdCrossedProcessor) Process(ctx context.Context, e event.Event) error {
	result, err := p.escrow.ReleaseCampaignEscrows(ctx, e.CampaignID)
	if err != nil {
		p.outbox.Nack(ctx, e.ID)
		return err
	}
	if !result.Clean() {
		p.outbox.Nack(ctx, e.ID)
		return fmt.Errorf("%d of %d escrow releases failed for campaign %s", result.Failed+result.Skipped, result.Total, e.CampaignID)
	}
	return p.outbox.Ack(ctx, e.ID)
}
