package logic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/blues/fundledger/internal/batch"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const tokenPrecision = 2

// IssueTokenRequest 发行参数，TotalSupply 为空时取活动已募金额
type IssueTokenRequest struct {
	CampaignID    string
	Name          string
	Symbol        string
	Description   string
	IssuerAddress string
	TotalSupply   *decimal.Decimal
}

// TokenDistributionResult 一次代币分发的结果
type TokenDistributionResult struct {
	TokenID            string            `json:"token_id"`
	Status             model.TokenStatus `json:"status"`
	DistributedAmount  decimal.Decimal   `json:"distributed_amount"`
	AlreadyDistributed int               `json:"already_distributed"`
	Result             batch.Result      `json:"result"`
}

// TokenBalance 地址持有的活动代币
type TokenBalance struct {
	Address      string          `json:"address"`
	Asset        ledger.Asset    `json:"asset"`
	HasTrustline bool            `json:"has_trustline"`
	Balance      decimal.Decimal `json:"balance"`
	Limit        decimal.Decimal `json:"limit"`
}

// TrustlineStatus 投资人对活动代币的信任线
type TrustlineStatus struct {
	InvestorID string `json:"investor_id"`
	TokenBalance
}

// allocation 单个投资人的分配
type allocation struct {
	InvestorID string
	Address    string
	Weight     decimal.Decimal
	Amount     decimal.Decimal
}

// TokenEngine 代币发行与按投资比例分发
type TokenEngine struct {
	store     repository.Store
	gateway   ledger.Gateway
	locker    lock.Locker
	publisher Publisher
	opts      Options
	now       func() time.Time
}

func NewTokenEngine(store repository.Store, gateway ledger.Gateway, locker lock.Locker, publisher Publisher, opts Options) *TokenEngine {
	return &TokenEngine{store: store, gateway: gateway, locker: locker, publisher: publisher, opts: opts, now: time.Now}
}

func tokenAsset(token *model.TokenModel) ledger.Asset {
	return ledger.Asset{Code: token.Symbol, Issuer: token.IssuerAddress}
}

// IssueToken 为活动发行代币，每个活动只能发行一次
func (t *TokenEngine) IssueToken(ctx context.Context, req IssueTokenRequest) (*model.TokenModel, error) {
	campaign, err := t.store.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, notFound(err, ErrCampaignNotFound)
	}
	switch campaign.Status {
	case model.CampaignStatusActive, model.CampaignStatusFunded, model.CampaignStatusCompleted:
	default:
		return nil, ErrInvalidCampaignStatus.Withf("cannot issue token for %s campaign", campaign.Status)
	}

	if _, err := t.store.GetTokenByCampaign(ctx, req.CampaignID); err == nil {
		return nil, ErrTokenAlreadyIssued
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	supply := campaign.CurrentAmount
	if req.TotalSupply != nil {
		supply = *req.TotalSupply
	}
	if !supply.IsPositive() {
		return nil, ErrInvalidAmount.Withf("token supply must be positive")
	}

	name := req.Name
	if name == "" {
		name = campaign.Title + " Token"
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		symbol = GenerateTokenSymbol(campaign.Title, campaign.Id)
	}
	issuer := req.IssuerAddress
	if issuer == "" {
		issuer = t.opts.PlatformAddress
	}

	now := t.now()
	metadata, err := json.Marshal(map[string]interface{}{
		"name":           name,
		"description":    req.Description,
		"campaign_title": campaign.Title,
		"issued_at":      now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	token := &model.TokenModel{
		Id:                uuid.NewString(),
		CampaignId:        campaign.Id,
		Name:              name,
		Symbol:            symbol,
		IssuerAddress:     issuer,
		TotalSupply:       supply,
		DistributedAmount: decimal.Zero,
		Status:            model.TokenStatusIssued,
		Metadata:          datatypes.JSON(metadata),
		IssuedAt:          now,
	}
	if err := t.store.CreateToken(ctx, token); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrTokenAlreadyIssued
		}
		return nil, err
	}
	logger.Info("Issued token %s (%s) for campaign %s, supply %s", token.Id, symbol, campaign.Id, supply)
	return token, nil
}

// GenerateTokenSymbol 取标题前三个字母，不足时用 id 中的字母数字补齐，再不足补 X
func GenerateTokenSymbol(title, id string) string {
	var b strings.Builder
	take := func(s string, digits bool) {
		for _, r := range s {
			if b.Len() >= 3 {
				return
			}
			if r > unicode.MaxASCII {
				continue
			}
			if unicode.IsLetter(r) || (digits && unicode.IsDigit(r)) {
				b.WriteRune(unicode.ToUpper(r))
			}
		}
	}
	take(title, false)
	take(id, true)
	for b.Len() < 3 {
		b.WriteByte('X')
	}
	return b.String()
}

// GetToken 活动代币
func (t *TokenEngine) GetToken(ctx context.Context, campaignID string) (*model.TokenModel, error) {
	token, err := t.store.GetTokenByCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound(err, ErrTokenNotIssued)
	}
	return token, nil
}

// DistributeTokens 按已确认投资比例向投资人发放代币
// 已发放的地址跳过，全部地址发放完成后状态变为 DISTRIBUTED，否则停留在 DISTRIBUTING 等待重试
func (t *TokenEngine) DistributeTokens(ctx context.Context, campaignID string) (*TokenDistributionResult, error) {
	token, err := t.GetToken(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if token.Status == model.TokenStatusDistributed {
		return nil, ErrTokenAlreadyDistributed
	}

	unlock, err := acquire(ctx, t.locker, "token:"+campaignID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	investments, err := t.store.ListConfirmedInvestments(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(investments) == 0 {
		return nil, ErrNoConfirmedInvestments
	}
	allocations, err := t.allocate(ctx, investments, token.TotalSupply)
	if err != nil {
		return nil, err
	}

	if token.Status == model.TokenStatusIssued {
		if _, err := t.store.TransitionTokenStatus(ctx, token.Id, model.TokenStatusIssued, model.TokenStatusDistributing); err != nil {
			return nil, err
		}
	}
	// 锁内重读
	if token, err = t.GetToken(ctx, campaignID); err != nil {
		return nil, err
	}
	if token.Status == model.TokenStatusDistributed {
		return nil, ErrTokenAlreadyDistributed
	}

	existing, err := t.store.ListTokenDistributions(ctx, token.Id)
	if err != nil {
		return nil, err
	}
	claims := make(map[string]model.TokenDistributionModel, len(existing))
	for _, d := range existing {
		claims[d.InvestorAddress] = d
	}

	pending := make([]allocation, 0, len(allocations))
	for _, a := range allocations {
		if a.Address == "" || !claims[a.Address].Settled() {
			pending = append(pending, a)
		}
	}

	asset := tokenAsset(token)
	logger.Info("Distributing token %s to %d recipients (%d already done)", token.Symbol, len(pending), len(allocations)-len(pending))
	items := batch.Run(ctx, pending, t.opts.Concurrency, func(ctx context.Context, a allocation) batch.Item {
		var claim *model.TokenDistributionModel
		if c, ok := claims[a.Address]; ok && a.Address != "" {
			claim = &c
		}
		return t.transfer(ctx, token, asset, a, claim)
	})
	result := batch.Summarize(items)
	for _, f := range result.Failures {
		logger.Warn("Token transfer to %s not completed: %s %s", f.Key, f.Reason, f.Message)
	}

	// 每个分配都有发放记录时完成
	complete := result.AllSucceeded() || len(pending) == 0
	if complete {
		if _, err := t.store.TransitionTokenStatus(ctx, token.Id, model.TokenStatusDistributing, model.TokenStatusDistributed); err != nil {
			return nil, err
		}
	}

	token, err = t.GetToken(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	logger.Info("Token distribution for campaign %s: total=%d succeeded=%d failed=%d skipped=%d status=%s",
		campaignID, result.Total, result.Succeeded, result.Failed, result.Skipped, token.Status)

	publish(ctx, t.publisher, event.TypeTokensDistributed, campaignID, event.TokensDistributed{
		CampaignID:  campaignID,
		TokenID:     token.Id,
		Status:      string(token.Status),
		Distributed: token.DistributedAmount.String(),
	})
	return &TokenDistributionResult{
		TokenID:            token.Id,
		Status:             token.Status,
		DistributedAmount:  token.DistributedAmount,
		AlreadyDistributed: len(allocations) - len(pending),
		Result:             result,
	}, nil
}

// transfer 向单个地址发放代币
// 提交前先写 PENDING 记录并标记已提交，标记残留说明上次结果未知，按引用查账后再决定是否重发
func (t *TokenEngine) transfer(ctx context.Context, token *model.TokenModel, asset ledger.Asset, a allocation, claim *model.TokenDistributionModel) batch.Item {
	if a.Address == "" {
		return batch.Failure(a.InvestorID, "", a.Amount, reasonInvestorAddressMissing, nil)
	}
	if claim != nil {
		a.Amount = claim.Amount
	}
	if !a.Amount.IsPositive() {
		return batch.Skip(a.InvestorID, a.Address, a.Amount, "zero_allocation")
	}

	if claim != nil && claim.SubmittedAt != nil {
		tx, err := settledOnLedger(ctx, t.gateway, t.opts.PlatformAddress, ledger.Reference("token", claim.Id))
		if err != nil {
			logger.Warn("Token transfer to %s submitted at %s is unconfirmed: %v", a.Address, claim.SubmittedAt.Format(time.RFC3339), err)
			return batch.Failure(a.InvestorID, a.Address, a.Amount, reasonTransferUnconfirmed, err)
		}
		if tx != nil {
			return t.complete(ctx, token, claim, tx.Hash)
		}
	}

	trustline, err := t.gateway.CheckTrustline(ctx, a.Address, asset)
	if err != nil {
		return batch.Failure(a.InvestorID, a.Address, a.Amount, ReasonOf(err), err)
	}
	if !trustline.Exists {
		return batch.Skip(a.InvestorID, a.Address, a.Amount, "trustline_missing")
	}

	submittedAt := t.now()
	if claim == nil {
		claim = &model.TokenDistributionModel{
			Id:              uuid.NewString(),
			TokenId:         token.Id,
			InvestorId:      a.InvestorID,
			InvestorAddress: a.Address,
			Amount:          a.Amount,
			Status:          model.DistributionStatusPending,
			SubmittedAt:     &submittedAt,
		}
		err = t.store.CreateTokenDistribution(ctx, claim)
	} else {
		err = t.store.SetTokenDistributionSubmitted(ctx, claim.Id, &submittedAt)
	}
	if err != nil {
		return batch.Failure(a.InvestorID, a.Address, a.Amount, reasonRecordFailed, err)
	}

	receipt, err := t.gateway.SendPayment(ctx, ledger.PaymentRequest{
		SenderKey:   t.opts.PlatformSecret,
		Destination: a.Address,
		Amount:      a.Amount,
		Asset:       asset,
		Reference:   ledger.Reference("token", claim.Id),
	})
	if err != nil {
		if definitelyRejected(err) {
			if clearErr := t.store.SetTokenDistributionSubmitted(ctx, claim.Id, nil); clearErr != nil {
				logger.Warn("Failed to clear submission marker for token transfer to %s: %v", a.Address, clearErr)
			}
		}
		return batch.Failure(a.InvestorID, a.Address, a.Amount, ReasonOf(err), err)
	}
	return t.complete(ctx, token, claim, receipt.TxHash)
}

// complete 账本转账已生效，记录转为 SUCCESS 并累加已发放量
func (t *TokenEngine) complete(ctx context.Context, token *model.TokenModel, claim *model.TokenDistributionModel, txHash string) batch.Item {
	err := persist(ctx, t.opts, "token transfer "+txHash, func() error {
		return t.store.Transaction(ctx, func(tx repository.Store) error {
			completed, err := tx.CompleteTokenDistribution(ctx, claim.Id, txHash, t.now())
			if err != nil || !completed {
				return err
			}
			return tx.AddTokenDistributed(ctx, token.Id, claim.Amount)
		})
	})
	if err != nil {
		logger.Error("Token transfer %s to %s succeeded but could not be recorded: %v", txHash, claim.InvestorAddress, err)
		return batch.Failure(claim.InvestorId, claim.InvestorAddress, claim.Amount, reasonRecordFailed, fmt.Errorf("transfer %s not recorded: %w", txHash, err))
	}
	return batch.Success(claim.InvestorId, claim.InvestorAddress, claim.Amount, txHash)
}

// allocate 按投资人汇总后计算 weight / Σweight × supply，截断到两位小数，不做余数修正
func (t *TokenEngine) allocate(ctx context.Context, investments []model.InvestmentModel, supply decimal.Decimal) ([]allocation, error) {
	grouped, err := groupByInvestor(ctx, t.store, investments)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, g := range grouped {
		total = total.Add(g.Weight)
	}
	for i := range grouped {
		grouped[i].Amount = grouped[i].Weight.Mul(supply).Div(total).Truncate(tokenPrecision)
	}
	return grouped, nil
}

// groupByInvestor 按结算地址合并投资金额（无地址时按投资人），顺序为首次出现顺序
func groupByInvestor(ctx context.Context, store repository.Store, investments []model.InvestmentModel) ([]allocation, error) {
	addresses := map[string]string{}
	index := map[string]int{}
	var out []allocation
	for _, inv := range investments {
		address, ok := addresses[inv.InvestorId]
		if !ok {
			investor, err := store.GetInvestor(ctx, inv.InvestorId)
			switch {
			case err == nil:
				address = investor.WalletAddress
			case !errors.Is(err, repository.ErrNotFound):
				return nil, err
			}
			addresses[inv.InvestorId] = address
		}

		key := "investor:" + inv.InvestorId
		if address != "" {
			key = "address:" + address
		}
		if i, ok := index[key]; ok {
			out[i].Weight = out[i].Weight.Add(inv.Amount)
			continue
		}
		index[key] = len(out)
		out = append(out, allocation{InvestorID: inv.InvestorId, Address: address, Weight: inv.Amount})
	}
	return out, nil
}

// GetTokenBalance 地址的代币余额
func (t *TokenEngine) GetTokenBalance(ctx context.Context, campaignID, address string) (*TokenBalance, error) {
	if address == "" {
		return nil, ErrMissingField.Withf("address is required")
	}
	token, err := t.GetToken(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	asset := tokenAsset(token)
	trustline, err := t.gateway.CheckTrustline(ctx, address, asset)
	if err != nil {
		return nil, ledgerError(err)
	}
	return &TokenBalance{
		Address:      address,
		Asset:        asset,
		HasTrustline: trustline.Exists,
		Balance:      trustline.Balance,
		Limit:        trustline.Limit,
	}, nil
}

// CheckInvestorTrustline 投资人钱包是否已为活动代币建立信任线
func (t *TokenEngine) CheckInvestorTrustline(ctx context.Context, campaignID, investorID string) (*TrustlineStatus, error) {
	investor, err := t.store.GetInvestor(ctx, investorID)
	if err != nil {
		return nil, notFound(err, ErrInvestorNotFound)
	}
	if investor.WalletAddress == "" {
		return nil, ErrRecipientAddressMissing
	}
	balance, err := t.GetTokenBalance(ctx, campaignID, investor.WalletAddress)
	if err != nil {
		return nil, err
	}
	return &TrustlineStatus{InvestorID: investorID, TokenBalance: *balance}, nil
}
