package logic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/batch"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dividendPrecision = 6

var hundred = decimal.NewFromInt(100)

// CreateDividendRequest 分红参数
type CreateDividendRequest struct {
	CampaignID       string
	TotalAmount      decimal.Decimal
	Asset            string
	IssuerAddress    string
	DistributionType model.DistributionType
}

// DividendOutcome 分红批次及本次派发结果
type DividendOutcome struct {
	Dividend *model.DividendModel `json:"dividend"`
	Result   batch.Result         `json:"result"`
}

// DividendProgress 轮询用的进度投影
type DividendProgress struct {
	DividendID        string                       `json:"dividend_id"`
	CampaignID        string                       `json:"campaign_id"`
	Status            model.DividendStatus         `json:"status"`
	TotalAmount       decimal.Decimal              `json:"total_amount"`
	DistributedAmount decimal.Decimal              `json:"distributed_amount"`
	Total             int                          `json:"total"`
	Succeeded         int                          `json:"succeeded"`
	Failed            int                          `json:"failed"`
	Pending           int                          `json:"pending"`
	Percentage        decimal.Decimal              `json:"percentage"`
	SuccessRate       decimal.Decimal              `json:"success_rate"`
	IsComplete        bool                         `json:"is_complete"`
	Payments          []model.DividendPaymentModel `json:"payments"`
}

// CampaignDividends 活动分红列表及汇总
type CampaignDividends struct {
	Dividends []model.DividendModel `json:"dividends"`
	Summary   DividendSummary       `json:"summary"`
}

type DividendSummary struct {
	Count             int             `json:"count"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DistributedAmount decimal.Decimal `json:"distributed_amount"`
	SuccessRate       decimal.Decimal `json:"success_rate"`
}

// recipient 分红收款人
type recipient struct {
	InvestorID string
	Address    string
	Weight     decimal.Decimal
}

// DividendEngine 分红计算与派发
type DividendEngine struct {
	store     repository.Store
	gateway   ledger.Gateway
	locker    lock.Locker
	publisher Publisher
	opts      Options
	now       func() time.Time

	// 后台派发
	wg sync.WaitGroup
}

func NewDividendEngine(store repository.Store, gateway ledger.Gateway, locker lock.Locker, publisher Publisher, opts Options) *DividendEngine {
	return &DividendEngine{store: store, gateway: gateway, locker: locker, publisher: publisher, opts: opts, now: time.Now}
}

func dividendAsset(d *model.DividendModel) ledger.Asset {
	return ledger.Asset{Code: d.Asset, Issuer: d.IssuerAddress}
}

// CreateDividend 创建分红并同步派发
func (d *DividendEngine) CreateDividend(ctx context.Context, req CreateDividendRequest) (*DividendOutcome, error) {
	dividend, payments, unlock, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return d.dispatch(ctx, dividend, payments, nil)
}

// CreateDividendAsync 待支付记录落库后即返回，派发在后台继续
func (d *DividendEngine) CreateDividendAsync(ctx context.Context, req CreateDividendRequest) (*model.DividendModel, error) {
	dividend, payments, unlock, err := d.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unlock()
		if _, err := d.dispatch(bg, dividend, payments, nil); err != nil {
			logger.Error("Background dividend %s dispatch failed: %v", dividend.Id, err)
		}
	}()
	return dividend, nil
}

// Wait 等待后台派发结束
func (d *DividendEngine) Wait() {
	d.wg.Wait()
}

// prepare 校验、计算份额、检查平台余额并写入分红与全部 PENDING 支付，成功时持有资产锁
func (d *DividendEngine) prepare(ctx context.Context, req CreateDividendRequest) (*model.DividendModel, []*model.DividendPaymentModel, func(), error) {
	if !req.TotalAmount.IsPositive() {
		return nil, nil, nil, ErrInvalidAmount
	}
	assetCode := strings.TrimSpace(req.Asset)
	if assetCode == "" {
		return nil, nil, nil, ErrMissingField.Withf("asset is required")
	}
	asset := ledger.Asset{Code: assetCode, Issuer: req.IssuerAddress}
	if asset.IsNative() && !strings.EqualFold(assetCode, d.opts.NativeAsset) {
		return nil, nil, nil, ErrMissingField.Withf("issuer address is required for %s", assetCode)
	}
	if asset.IsNative() {
		asset.Code = d.opts.NativeAsset
	}

	campaign, err := d.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, nil, nil, notFound(err, ErrCampaignNotFound)
	}

	recipients, err := d.recipients(ctx, campaign.Id, req.DistributionType)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, r := range recipients {
		if r.Address == "" {
			return nil, nil, nil, ErrRecipientAddressMissing.Withf("investor %s has no settlement address", r.InvestorID)
		}
	}
	shares := computeShares(recipients, req.TotalAmount)

	unlock, err := acquire(ctx, d.locker, "asset:"+asset.String())
	if err != nil {
		return nil, nil, nil, err
	}

	// 余额检查只是预检，不做资金预留
	balance, err := d.gateway.GetBalance(ctx, d.opts.PlatformAddress, asset)
	if err != nil {
		unlock()
		return nil, nil, nil, ledgerError(err)
	}
	if balance.LessThan(req.TotalAmount) {
		unlock()
		return nil, nil, nil, ErrInsufficientBalance.Withf("platform balance %s %s is below %s", balance, asset.Code, req.TotalAmount)
	}

	dividend := &model.DividendModel{
		Id:                uuid.NewString(),
		CampaignId:        campaign.Id,
		TotalAmount:       req.TotalAmount,
		Asset:             asset.Code,
		IssuerAddress:     asset.Issuer,
		DistributionType:  req.DistributionType,
		Status:            model.DividendStatusDistributing,
		DistributedAmount: decimal.Zero,
	}
	payments := make([]*model.DividendPaymentModel, len(recipients))
	for i, r := range recipients {
		payments[i] = &model.DividendPaymentModel{
			Id:              uuid.NewString(),
			DividendId:      dividend.Id,
			InvestorId:      r.InvestorID,
			InvestorAddress: r.Address,
			Amount:          shares[i],
			Status:          model.PaymentStatusPending,
		}
	}

	err = d.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.CreateDividend(ctx, dividend); err != nil {
			return err
		}
		return tx.CreateDividendPayments(ctx, payments)
	})
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}

	logger.Info("Created dividend %s for campaign %s: %s %s to %d recipients (%s)",
		dividend.Id, campaign.Id, req.TotalAmount, asset.Code, len(payments), req.DistributionType)
	return dividend, payments, unlock, nil
}

// recipients 按分红口径确定收款人及权重
func (d *DividendEngine) recipients(ctx context.Context, campaignID string, distributionType model.DistributionType) ([]recipient, error) {
	switch distributionType {
	case model.DistributionByInvestment:
		investments, err := d.store.ListConfirmedInvestments(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if len(investments) == 0 {
			return nil, ErrNoConfirmedInvestments
		}
		grouped, err := groupByInvestor(ctx, d.store, investments)
		if err != nil {
			return nil, err
		}
		out := make([]recipient, len(grouped))
		for i, g := range grouped {
			out[i] = recipient{InvestorID: g.InvestorID, Address: g.Address, Weight: g.Weight}
		}
		return out, nil

	case model.DistributionByTokens:
		token, err := d.store.GetTokenByCampaign(ctx, campaignID)
		if err != nil {
			return nil, notFound(err, ErrTokenNotIssued)
		}
		distributions, err := d.store.ListTokenDistributions(ctx, token.Id)
		if err != nil {
			return nil, err
		}
		index := map[string]int{}
		var out []recipient
		for _, dist := range distributions {
			// 只统计已到账的发放
			if !dist.Settled() {
				continue
			}
			if i, ok := index[dist.InvestorAddress]; ok {
				out[i].Weight = out[i].Weight.Add(dist.Amount)
				continue
			}
			index[dist.InvestorAddress] = len(out)
			out = append(out, recipient{InvestorID: dist.InvestorId, Address: dist.InvestorAddress, Weight: dist.Amount})
		}
		if len(out) == 0 {
			return nil, ErrNoTokenHolders
		}
		return out, nil

	default:
		return nil, ErrInvalidDistributionType.Withf("unknown distribution type %q", distributionType)
	}
}

// computeShares weight × total / Σweight，逐个四舍五入到 6 位，不做余数修正
func computeShares(recipients []recipient, total decimal.Decimal) []decimal.Decimal {
	sum := decimal.Zero
	for _, r := range recipients {
		sum = sum.Add(r.Weight)
	}
	shares := make([]decimal.Decimal, len(recipients))
	if !sum.IsPositive() {
		return shares
	}
	for i, r := range recipients {
		shares[i] = r.Weight.Mul(total).Div(sum).Round(dividendPrecision)
	}
	return shares
}

// dispatch 逐笔支付并落库结果，单笔失败不影响其余，最后重算汇总状态
// settled 为派发前已查账处理的支付结果，一并计入本次汇总
func (d *DividendEngine) dispatch(ctx context.Context, dividend *model.DividendModel, payments []*model.DividendPaymentModel, settled []batch.Item) (*DividendOutcome, error) {
	asset := dividendAsset(dividend)
	items := batch.Run(ctx, payments, d.opts.Concurrency, func(ctx context.Context, p *model.DividendPaymentModel) batch.Item {
		return d.pay(ctx, asset, p)
	})
	result := batch.Summarize(append(settled, items...))
	for _, f := range result.Failures {
		logger.Warn("Dividend %s payment %s to %s failed: %s %s", dividend.Id, f.Key, f.Address, f.Reason, f.Message)
	}

	updated, err := d.finalize(ctx, dividend.Id)
	if err != nil {
		return nil, err
	}
	logger.Info("Dividend %s dispatch: total=%d succeeded=%d failed=%d status=%s distributed=%s",
		dividend.Id, result.Total, result.Succeeded, result.Failed, updated.Status, updated.DistributedAmount)

	publish(ctx, d.publisher, event.TypeDividendCompleted, updated.CampaignId, event.DividendCompleted{
		CampaignID:  updated.CampaignId,
		DividendID:  updated.Id,
		Status:      string(updated.Status),
		Distributed: updated.DistributedAmount.String(),
	})
	return &DividendOutcome{Dividend: updated, Result: result}, nil
}

// pay 提交前把支付置为 PENDING 并标记已提交，标记在结果明确前不清除
func (d *DividendEngine) pay(ctx context.Context, asset ledger.Asset, p *model.DividendPaymentModel) batch.Item {
	submittedAt := d.now()
	p.Status = model.PaymentStatusPending
	p.ErrorMessage = ""
	p.SubmittedAt = &submittedAt
	if err := d.store.UpdateDividendPayment(ctx, p); err != nil {
		return batch.Failure(p.Id, p.InvestorAddress, p.Amount, reasonRecordFailed, err)
	}

	receipt, err := d.gateway.SendPayment(ctx, ledger.PaymentRequest{
		SenderKey:   d.opts.PlatformSecret,
		Destination: p.InvestorAddress,
		Amount:      p.Amount,
		Asset:       asset,
		Reference:   ledger.Reference("dividend", p.Id),
	})
	if err != nil {
		p.Status = model.PaymentStatusFailed
		p.ErrorMessage = err.Error()
		if definitelyRejected(err) {
			p.SubmittedAt = nil
		}
		if uerr := persist(ctx, d.opts, "failed payment "+p.Id, func() error {
			return d.store.UpdateDividendPayment(ctx, p)
		}); uerr != nil {
			logger.Error("Failed to record failed payment %s: %v", p.Id, uerr)
		}
		return batch.Failure(p.Id, p.InvestorAddress, p.Amount, ReasonOf(err), err)
	}
	return d.recordPaid(ctx, p, receipt.TxHash)
}

// recordPaid 账本付款已生效，写入 SUCCESS；写不进去时支付保持 PENDING，由恢复派发查账补记
func (d *DividendEngine) recordPaid(ctx context.Context, p *model.DividendPaymentModel, txHash string) batch.Item {
	now := d.now()
	paid := *p
	paid.Status = model.PaymentStatusSuccess
	paid.TransactionHash = txHash
	paid.ErrorMessage = ""
	paid.PaidAt = &now
	err := persist(ctx, d.opts, "dividend payment "+p.Id, func() error {
		return d.store.UpdateDividendPayment(ctx, &paid)
	})
	if err != nil {
		logger.Error("Payment %s sent (tx: %s) but could not be recorded: %v", p.Id, txHash, err)
		return batch.Failure(p.Id, p.InvestorAddress, p.Amount, reasonRecordFailed, fmt.Errorf("payment %s not recorded: %w", txHash, err))
	}
	*p = paid
	return batch.Success(p.Id, p.InvestorAddress, p.Amount, txHash)
}

// finalize 按全部支付记录重算已派发金额与状态
func (d *DividendEngine) finalize(ctx context.Context, dividendID string) (*model.DividendModel, error) {
	payments, err := d.store.ListDividendPayments(ctx, dividendID)
	if err != nil {
		return nil, err
	}

	distributed := decimal.Zero
	succeeded, failed, pending := 0, 0, 0
	for _, p := range payments {
		switch p.Status {
		case model.PaymentStatusSuccess:
			succeeded++
			distributed = distributed.Add(p.Amount)
		case model.PaymentStatusFailed:
			failed++
		default:
			pending++
		}
	}

	status := model.DividendStatusPartial
	switch {
	case pending > 0:
		status = model.DividendStatusDistributing
	case succeeded == len(payments) && succeeded > 0:
		status = model.DividendStatusDistributed
	case succeeded == 0:
		status = model.DividendStatusFailed
	}

	var completedAt *time.Time
	if status != model.DividendStatusDistributing {
		now := d.now()
		completedAt = &now
	}
	if err := d.store.UpdateDividendOutcome(ctx, dividendID, status, distributed, completedAt); err != nil {
		return nil, err
	}
	return d.store.GetDividend(ctx, dividendID)
}

// ResumeDividend 只重发 FAILED 与 PENDING 支付，已全部成功时为空操作
// 带提交标记的支付先按引用查账，已到账的直接补记，结果未知的不重发
func (d *DividendEngine) ResumeDividend(ctx context.Context, dividendID string) (*DividendOutcome, error) {
	dividend, err := d.store.GetDividend(ctx, dividendID)
	if err != nil {
		return nil, notFound(err, ErrDividendNotFound)
	}
	if dividend.Status == model.DividendStatusDistributed {
		return &DividendOutcome{Dividend: dividend, Result: batch.Summarize(nil)}, nil
	}

	asset := dividendAsset(dividend)
	unlock, err := acquire(ctx, d.locker, "asset:"+asset.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	all, err := d.store.ListDividendPayments(ctx, dividendID)
	if err != nil {
		return nil, err
	}
	retry := make([]*model.DividendPaymentModel, 0, len(all))
	var settled []batch.Item
	outstanding := decimal.Zero
	for i := range all {
		p := &all[i]
		if p.Status == model.PaymentStatusSuccess {
			continue
		}
		if p.SubmittedAt != nil {
			tx, err := settledOnLedger(ctx, d.gateway, d.opts.PlatformAddress, ledger.Reference("dividend", p.Id))
			if err != nil {
				logger.Warn("Dividend payment %s submitted at %s is unconfirmed: %v", p.Id, p.SubmittedAt.Format(time.RFC3339), err)
				settled = append(settled, batch.Failure(p.Id, p.InvestorAddress, p.Amount, reasonPaymentUnconfirmed, err))
				continue
			}
			if tx != nil {
				settled = append(settled, d.recordPaid(ctx, p, tx.Hash))
				continue
			}
		}
		retry = append(retry, p)
		outstanding = outstanding.Add(p.Amount)
	}
	if len(retry) == 0 {
		updated, err := d.finalize(ctx, dividendID)
		if err != nil {
			return nil, err
		}
		return &DividendOutcome{Dividend: updated, Result: batch.Summarize(settled)}, nil
	}

	balance, err := d.gateway.GetBalance(ctx, d.opts.PlatformAddress, asset)
	if err != nil {
		return nil, ledgerError(err)
	}
	if balance.LessThan(outstanding) {
		return nil, ErrInsufficientBalance.Withf("platform balance %s %s is below outstanding %s", balance, asset.Code, outstanding)
	}

	if err := d.store.UpdateDividendOutcome(ctx, dividendID, model.DividendStatusDistributing, dividend.DistributedAmount, nil); err != nil {
		return nil, err
	}
	logger.Info("Resuming dividend %s: %d payments outstanding", dividendID, len(retry))
	return d.dispatch(ctx, dividend, retry, settled)
}

// GetDividendStatus 分红进度
func (d *DividendEngine) GetDividendStatus(ctx context.Context, dividendID string) (*DividendProgress, error) {
	dividend, err := d.store.GetDividend(ctx, dividendID)
	if err != nil {
		return nil, notFound(err, ErrDividendNotFound)
	}
	payments, err := d.store.ListDividendPayments(ctx, dividendID)
	if err != nil {
		return nil, err
	}

	progress := &DividendProgress{
		DividendID:        dividend.Id,
		CampaignID:        dividend.CampaignId,
		Status:            dividend.Status,
		TotalAmount:       dividend.TotalAmount,
		DistributedAmount: dividend.DistributedAmount,
		Total:             len(payments),
		Percentage:        decimal.Zero,
		SuccessRate:       decimal.Zero,
		Payments:          payments,
	}
	for _, p := range payments {
		switch p.Status {
		case model.PaymentStatusSuccess:
			progress.Succeeded++
		case model.PaymentStatusFailed:
			progress.Failed++
		default:
			progress.Pending++
		}
	}
	if progress.Total > 0 {
		total := decimal.NewFromInt(int64(progress.Total))
		processed := decimal.NewFromInt(int64(progress.Succeeded + progress.Failed))
		progress.Percentage = processed.Mul(hundred).Div(total).Round(2)
		progress.SuccessRate = decimal.NewFromInt(int64(progress.Succeeded)).Mul(hundred).Div(total).Round(2)
	}
	progress.IsComplete = progress.Pending == 0 && dividend.Status != model.DividendStatusDistributing
	return progress, nil
}

// ListCampaignDividends 活动下全部分红及汇总
func (d *DividendEngine) ListCampaignDividends(ctx context.Context, campaignID string) (*CampaignDividends, error) {
	if _, err := d.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	dividends, err := d.store.ListDividendsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	summary := DividendSummary{Count: len(dividends), TotalAmount: decimal.Zero, DistributedAmount: decimal.Zero, SuccessRate: decimal.Zero}
	for _, div := range dividends {
		summary.TotalAmount = summary.TotalAmount.Add(div.TotalAmount)
		summary.DistributedAmount = summary.DistributedAmount.Add(div.DistributedAmount)
	}
	if summary.TotalAmount.IsPositive() {
		summary.SuccessRate = summary.DistributedAmount.Mul(hundred).Div(summary.TotalAmount).Round(2)
	}
	if dividends == nil {
		dividends = []model.DividendModel{}
	}
	return &CampaignDividends{Dividends: dividends, Summary: summary}, nil
}

