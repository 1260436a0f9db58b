package logic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvestmentIntent 投资意向，投资人据此创建托管或付款
type InvestmentIntent struct {
	Investment  *model.InvestmentModel `json:"investment"`
	Condition   string                 `json:"condition"`
	Destination string                 `json:"destination"`
	FinishAfter time.Time              `json:"finish_after"`
}

// ConfirmResult 确认结果
type ConfirmResult struct {
	Investment *model.InvestmentModel `json:"investment"`
	Funding    *FundingResult         `json:"funding"`
}

// InvestmentLogic 投资意向与账本确认
type InvestmentLogic struct {
	store   repository.Store
	gateway ledger.Gateway
	funding *FundingTracker
	escrow  *EscrowManager
	opts    Options
	now     func() time.Time
}

func NewInvestmentLogic(store repository.Store, gateway ledger.Gateway, funding *FundingTracker, escrow *EscrowManager, opts Options) *InvestmentLogic {
	return &InvestmentLogic{store: store, gateway: gateway, funding: funding, escrow: escrow, opts: opts, now: time.Now}
}

// CreateInvestmentIntent 校验后创建待确认投资并生成托管条件
func (l *InvestmentLogic) CreateInvestmentIntent(ctx context.Context, campaignID, investorID string, amount decimal.Decimal) (*InvestmentIntent, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(l.opts.MinInvestment) {
		return nil, ErrAmountBelowMinimum.Withf("minimum investment is %s", l.opts.MinInvestment)
	}

	campaign, err := l.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	if campaign.Status != model.CampaignStatusActive {
		return nil, ErrCampaignNotActive
	}
	if campaign.Ended(l.now()) {
		return nil, ErrCampaignEnded
	}
	if campaign.GoalReached() {
		return nil, ErrGoalAlreadyReached
	}
	if _, err := l.store.GetInvestor(ctx, investorID); err != nil {
		return nil, notFound(err, ErrInvestorNotFound)
	}

	investment := &model.InvestmentModel{
		Id:         uuid.NewString(),
		CampaignId: campaignID,
		InvestorId: investorID,
		Amount:     amount,
		Status:     model.InvestmentStatusPending,
	}
	if err := l.store.CreateInvestment(ctx, investment); err != nil {
		return nil, err
	}
	investment, err = l.escrow.PrepareEscrow(ctx, investment.Id)
	if err != nil {
		return nil, err
	}

	logger.Info("Created investment intent %s: %s to campaign %s", investment.Id, amount, campaignID)
	return &InvestmentIntent{
		Investment:  investment,
		Condition:   investment.EscrowCondition,
		Destination: l.opts.PlatformAddress,
		FinishAfter: l.now().Add(l.opts.EscrowFinishAfter),
	}, nil
}

// GetInvestment 查询投资
func (l *InvestmentLogic) GetInvestment(ctx context.Context, id string) (*model.InvestmentModel, error) {
	inv, err := l.store.GetInvestment(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrInvestmentNotFound)
	}
	return inv, nil
}

// ListInvestorInvestments 投资人的全部投资，新的在前
func (l *InvestmentLogic) ListInvestorInvestments(ctx context.Context, investorID string) ([]model.InvestmentModel, error) {
	if _, err := l.store.GetInvestor(ctx, investorID); err != nil {
		return nil, notFound(err, ErrInvestorNotFound)
	}
	investments, err := l.store.ListInvestmentsByInvestor(ctx, investorID)
	if err != nil {
		return nil, err
	}
	if investments == nil {
		investments = []model.InvestmentModel{}
	}
	return investments, nil
}

// ConfirmInvestment 用账本交易确认投资并计入活动募资额
func (l *InvestmentLogic) ConfirmInvestment(ctx context.Context, investmentID, txHash string) (*ConfirmResult, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, ErrMissingField.Withf("transaction hash is required")
	}

	inv, err := l.GetInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv.Confirmed() {
		return nil, ErrInvestmentAlreadyConfirmed
	}

	tx, err := l.gateway.VerifyTransaction(ctx, txHash)
	if err != nil {
		return nil, ledgerError(err)
	}
	if !tx.Verified {
		return nil, ErrTransactionNotValidated
	}
	if !tx.Success {
		return nil, ErrTransactionFailed.Withf("transaction result %s", tx.ResultCode)
	}

	var escrowSequence *uint64
	switch tx.Type {
	case ledger.TxTypePayment:
	case ledger.TxTypeEscrowCreate:
		if inv.EscrowCondition == "" || !strings.EqualFold(tx.Condition, inv.EscrowCondition) {
			return nil, ErrTransactionMismatch.Withf("escrow condition does not match the investment")
		}
		seq := tx.Sequence
		escrowSequence = &seq
	default:
		return nil, ErrUnsupportedTransaction.Withf("%s transactions cannot confirm an investment", tx.Type)
	}

	if !sameAddress(tx.Destination, l.opts.PlatformAddress) {
		return nil, ErrTransactionMismatch.Withf("destination %s is not the platform address", tx.Destination)
	}
	if tx.Amount.Sub(inv.Amount).Abs().GreaterThan(l.opts.AmountTolerance) {
		return nil, ErrTransactionMismatch.Withf("transaction amount %s does not match investment amount %s", tx.Amount, inv.Amount)
	}

	confirmedAt := l.now()
	funding, err := l.funding.RecordConfirmedInvestmentWith(ctx, inv.CampaignId, inv.Amount, func(store repository.Store) error {
		ok, err := store.ConfirmInvestment(ctx, inv.Id, txHash, confirmedAt)
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrTransactionAlreadyUsed
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvestmentAlreadyConfirmed
		}
		if escrowSequence != nil {
			if _, err := store.RecordEscrowCreated(ctx, inv.Id, *escrowSequence, txHash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	confirmed, err := l.GetInvestment(ctx, inv.Id)
	if err != nil {
		return nil, err
	}
	logger.Info("Confirmed investment %s with %s tx %s", inv.Id, tx.Type, txHash)
	return &ConfirmResult{Investment: confirmed, Funding: funding}, nil
}
