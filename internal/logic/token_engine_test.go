package logic

import (
	"context"
	"fmt"
	"testing"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) fundedCampaign(t *testing.T, goal string, amounts ...string) (*model.CampaignModel, []*model.InvestorModel) {
	t.Helper()
	c := h.activeCampaign(t, goal)
	investors := make([]*model.InvestorModel, len(amounts))
	for i, amount := range amounts {
		investors[i] = h.investor(t, fmt.Sprintf("investor-%d", i), fmt.Sprintf("rHolder%d", i))
		h.investViaPayment(t, c.Id, investors[i], amount)
	}
	h.bus.Wait()
	return c, investors
}

func TestDistributeTokensWithoutTokenMutatesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, _ := h.fundedCampaign(t, "100", "100")

	_, err := h.services.Token.DistributeTokens(ctx, c.Id)
	assert.ErrorIs(t, err, ErrTokenNotIssued)
	assert.Equal(t, KindPrecondition, KindOf(err))

	_, err = h.store.GetTokenByCampaign(ctx, c.Id)
	assert.Error(t, err)
	assert.Equal(t, 0, h.ledger.PaymentCount())
	assert.Equal(t, model.CampaignStatusFunded, h.campaign(t, c.Id).Status)
}

func TestIssueToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, _ := h.fundedCampaign(t, "500", "500")

	token, err := h.services.Token.IssueToken(ctx, IssueTokenRequest{CampaignID: c.Id})
	require.NoError(t, err)
	assert.Equal(t, "SOL", token.Symbol)
	assert.Equal(t, "Solar Farm Token", token.Name)
	assert.Equal(t, platformAddress, token.IssuerAddress)
	assert.True(t, token.TotalSupply.Equal(d("500")))
	assert.Equal(t, model.TokenStatusIssued, token.Status)

	_, err = h.services.Token.IssueToken(ctx, IssueTokenRequest{CampaignID: c.Id})
	assert.ErrorIs(t, err, ErrTokenAlreadyIssued)

	draft, err := h.services.Campaign.CreateCampaign(ctx, CreateCampaignRequest{Title: "Draft", GoalAmount: d("1"), EndDate: c.EndDate})
	require.NoError(t, err)
	_, err = h.services.Token.IssueToken(ctx, IssueTokenRequest{CampaignID: draft.Id})
	assert.ErrorIs(t, err, ErrInvalidCampaignStatus)
}

func TestGenerateTokenSymbol(t *testing.T) {
	assert.Equal(t, "SOL", GenerateTokenSymbol("Solar Farm", "abc"))
	assert.Equal(t, "AB1", GenerateTokenSymbol("A b", "-1x"))
	assert.Equal(t, "XXX", GenerateTokenSymbol("", ""))
	assert.Equal(t, "CAF", GenerateTokenSymbol("Café Fund", ""))
}

func TestDistributeTokensProportionally(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, investors := h.fundedCampaign(t, "300", "100", "100", "100")

	token, err := h.services.Token.IssueToken(ctx, IssueTokenRequest{CampaignID: c.Id, Symbol: "sun", TotalSupply: ptr(d("1000"))})
	require.NoError(t, err)
	asset := ledger.Asset{Code: "SUN", Issuer: platformAddress}
	for _, inv := range investors {
		h.ledger.SetTrustline(inv.WalletAddress, asset, d("1000000"))
	}

	result, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, result.Status)
	assert.Equal(t, 3, result.Result.Succeeded)
	assert.True(t, result.DistributedAmount.Equal(d("999.99")))

	// 截断误差不超过每个收款人 0.01
	drift := token.TotalSupply.Sub(result.DistributedAmount)
	assert.True(t, drift.LessThanOrEqual(d("0.03")))
	for _, p := range h.ledger.Payments {
		assert.True(t, p.Amount.Equal(d("333.33")))
		assert.Equal(t, asset, p.Asset)
	}

	_, err = h.services.Token.DistributeTokens(ctx, c.Id)
	assert.ErrorIs(t, err, ErrTokenAlreadyDistributed)
	assert.Equal(t, 3, h.ledger.PaymentCount())
}

func TestDistributeTokensSkipsMissingTrustlineAndResumes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, investors := h.fundedCampaign(t, "1000", "600", "400")

	_, err := h.services.Token.IssueToken(ctx, IssueTokenRequest{CampaignID: c.Id, Symbol: "SOL"})
	require.NoError(t, err)
	asset := ledger.Asset{Code: "SOL", Issuer: platformAddress}
	h.ledger.SetTrustline(investors[0].WalletAddress, asset, d("10000"))

	first, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributing, first.Status)
	assert.Equal(t, 1, first.Result.Succeeded)
	assert.Equal(t, 1, first.Result.Skipped)
	require.Len(t, first.Result.Failures, 1)
	assert.Equal(t, "trustline_missing", first.Result.Failures[0].Reason)
	assert.True(t, first.DistributedAmount.Equal(d("600")))

	status, err := h.services.Token.CheckInvestorTrustline(ctx, c.Id, investors[1].Id)
	require.NoError(t, err)
	assert.False(t, status.HasTrustline)

	h.ledger.SetTrustline(investors[1].WalletAddress, asset, d("10000"))
	second, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, second.Status)
	assert.Equal(t, 1, second.AlreadyDistributed)
	assert.Equal(t, 1, second.Result.Succeeded)
	assert.True(t, second.DistributedAmount.Equal(d("1000")))
	assert.Equal(t, 2, h.ledger.PaymentCount())
}

func TestGetTokenBalanceRequiresAddress(t *testing.T) {
	h := newHarness(t)
	_, err := h.services.Token.GetTokenBalance(context.Background(), "c1", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}
