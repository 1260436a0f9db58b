package logic

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/batch"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistRetriesUntilWritten(t *testing.T) {
	ctx := context.Background()
	opts := Options{RecordRetries: 3, RecordRetryBackoff: time.Millisecond}

	calls := 0
	err := persist(ctx, opts, "test", func() error {
		calls++
		if calls < 3 {
			return errStoreDown
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = persist(ctx, opts, "test", func() error {
		calls++
		return errStoreDown
	})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 3, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	calls = 0
	err = persist(cancelled, Options{RecordRetries: 3, RecordRetryBackoff: time.Hour}, "test", func() error {
		calls++
		return errStoreDown
	})
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, calls)
}

func TestDefinitelyRejected(t *testing.T) {
	assert.True(t, definitelyRejected(ledger.Rejected("tecPATH_DRY", "")))
	assert.True(t, definitelyRejected(ledger.Rejected("tefPAST_SEQ", "")))
	assert.False(t, definitelyRejected(ledger.Rejected("terQUEUED", "")))
	assert.False(t, definitelyRejected(ledger.ErrUnreachable))
}

func (h *harness) singleHolderToken(t *testing.T) (*model.CampaignModel, *model.TokenModel) {
	t.Helper()
	c, investors := h.fundedCampaign(t, "1000", "1000")
	token, err := h.services.Token.IssueToken(context.Background(), IssueTokenRequest{CampaignID: c.Id, Symbol: "SOL"})
	require.NoError(t, err)
	h.ledger.SetTrustline(investors[0].WalletAddress, ledger.Asset{Code: "SOL", Issuer: platformAddress}, d("10000"))
	return c, token
}

func TestTokenTransferNotResentWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, token := h.singleHolderToken(t)

	h.flaky.failNext("CompleteTokenDistribution", 3)
	first, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributing, first.Status)
	require.Len(t, first.Result.Failures, 1)
	assert.Equal(t, reasonRecordFailed, first.Result.Failures[0].Reason)
	assert.True(t, first.DistributedAmount.IsZero())
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))

	claims, err := h.store.ListTokenDistributions(ctx, token.Id)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, model.DistributionStatusPending, claims[0].Status)
	assert.NotNil(t, claims[0].SubmittedAt)

	second, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, second.Status)
	assert.Equal(t, 1, second.Result.Succeeded)
	assert.True(t, second.DistributedAmount.Equal(d("1000")))
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))
	assert.Equal(t, 1, h.ledger.PaymentCount())

	claims, err = h.store.ListTokenDistributions(ctx, token.Id)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.True(t, claims[0].Settled())
	assert.True(t, strings.HasPrefix(claims[0].TransactionHash, "PAY"))
}

func TestTokenTransferRecordedAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, _ := h.singleHolderToken(t)

	h.flaky.failNext("CompleteTokenDistribution", 2)
	result, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, result.Status)
	assert.True(t, result.DistributedAmount.Equal(d("1000")))
	assert.Equal(t, 1, h.ledger.PaymentCount())
}

func TestTokenTransferUnconfirmedWithoutLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, _ := h.singleHolderToken(t)

	h.flaky.failNext("CompleteTokenDistribution", 3)
	_, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)

	// 账本无法按引用查账时不重发
	h.ledger.FailFind(ledger.ErrLookupUnsupported)
	second, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributing, second.Status)
	require.Len(t, second.Result.Failures, 1)
	assert.Equal(t, reasonTransferUnconfirmed, second.Result.Failures[0].Reason)
	assert.Equal(t, 1, h.ledger.PaymentCount())

	h.ledger.ClearFailures()
	third, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, third.Status)
	assert.Equal(t, 1, h.ledger.PaymentCount())
}

func TestTokenTransferResentAfterRejection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c, token := h.singleHolderToken(t)

	h.ledger.FailPaymentsTo("rHolder0", ledger.Rejected("tecPATH_DRY", "no path"))
	first, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributing, first.Status)

	claims, err := h.store.ListTokenDistributions(ctx, token.Id)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Nil(t, claims[0].SubmittedAt)

	h.ledger.ClearFailures()
	second, err := h.services.Token.DistributeTokens(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusDistributed, second.Status)
	assert.Equal(t, 2, h.ledger.PaymentCount())
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))
}

func (h *harness) singleHolderDividend(t *testing.T) *model.CampaignModel {
	t.Helper()
	c, _ := h.fundedCampaign(t, "100", "100")
	h.ledger.SetBalance(platformAddress, xrp, d("100"))
	return c
}

func TestDividendPaymentNotResentWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.singleHolderDividend(t)

	h.flaky.failNext("UpdateDividendPayment", 3)
	outcome, err := h.services.Dividend.CreateDividend(ctx, CreateDividendRequest{
		CampaignID: c.Id, TotalAmount: d("50"), Asset: "XRP", DistributionType: model.DistributionByInvestment,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DividendStatusDistributing, outcome.Dividend.Status)
	require.Len(t, outcome.Result.Failures, 1)
	assert.Equal(t, reasonRecordFailed, outcome.Result.Failures[0].Reason)
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))

	payments, err := h.store.ListDividendPayments(ctx, outcome.Dividend.Id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, model.PaymentStatusPending, payments[0].Status)
	assert.NotNil(t, payments[0].SubmittedAt)

	resumed, err := h.services.Dividend.ResumeDividend(ctx, outcome.Dividend.Id)
	require.NoError(t, err)
	assert.Equal(t, model.DividendStatusDistributed, resumed.Dividend.Status)
	assert.True(t, resumed.Dividend.DistributedAmount.Equal(d("50")))
	assert.Equal(t, 1, resumed.Result.Succeeded)
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))
	assert.Equal(t, 1, h.ledger.PaymentCount())

	payments, err = h.store.ListDividendPayments(ctx, outcome.Dividend.Id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, payments[0].Status)
	assert.True(t, strings.HasPrefix(payments[0].TransactionHash, "PAY"))
}

func TestDividendPaymentRecordedAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.singleHolderDividend(t)

	h.flaky.failNext("UpdateDividendPayment", 1)
	outcome, err := h.services.Dividend.CreateDividend(ctx, CreateDividendRequest{
		CampaignID: c.Id, TotalAmount: d("50"), Asset: "XRP", DistributionType: model.DistributionByInvestment,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DividendStatusDistributed, outcome.Dividend.Status)
	assert.Equal(t, 1, h.ledger.PaymentCount())
}

func TestDividendResumeLeavesUnconfirmedPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.singleHolderDividend(t)

	h.ledger.FailPaymentsTo("rHolder0", ledger.ErrUnreachable)
	outcome, err := h.services.Dividend.CreateDividend(ctx, CreateDividendRequest{
		CampaignID: c.Id, TotalAmount: d("50"), Asset: "XRP", DistributionType: model.DistributionByInvestment,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DividendStatusFailed, outcome.Dividend.Status)

	h.ledger.ClearFailures()
	h.ledger.FailFind(ledger.ErrLookupUnsupported)
	resumed, err := h.services.Dividend.ResumeDividend(ctx, outcome.Dividend.Id)
	require.NoError(t, err)
	require.Len(t, resumed.Result.Failures, 1)
	assert.Equal(t, reasonPaymentUnconfirmed, resumed.Result.Failures[0].Reason)
	assert.Equal(t, 1, h.ledger.PaymentCount())

	// 查账确认未到账后重发
	h.ledger.ClearFailures()
	resumed, err = h.services.Dividend.ResumeDividend(ctx, outcome.Dividend.Id)
	require.NoError(t, err)
	assert.Equal(t, model.DividendStatusDistributed, resumed.Dividend.Status)
	assert.Equal(t, 2, h.ledger.PaymentCount())
	assert.Equal(t, 1, h.ledger.PaymentsTo("rHolder0"))
}

func TestEscrowReleaseNotResubmittedWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")

	h.flaky.failNext("MarkEscrowFinished", 3)
	confirmed := h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "1000")
	h.bus.Wait()
	assert.Equal(t, model.CampaignStatusActive, h.campaign(t, c.Id).Status)
	assert.Equal(t, 1, h.ledger.FinishCount())

	inv, err := h.store.GetInvestment(ctx, confirmed.Investment.Id)
	require.NoError(t, err)
	assert.False(t, inv.EscrowFinished)
	assert.NotNil(t, inv.EscrowFinishSubmittedAt)

	result, err := h.services.Escrow.ReleaseCampaignEscrows(ctx, c.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, h.ledger.FinishCount())
	assert.Equal(t, model.CampaignStatusFunded, h.campaign(t, c.Id).Status)

	inv, err = h.store.GetInvestment(ctx, confirmed.Investment.Id)
	require.NoError(t, err)
	assert.True(t, inv.EscrowFinished)
	assert.True(t, strings.HasPrefix(inv.EscrowFinishTxHash, "FIN"))
}

func TestEscrowReleaseUnconfirmedWithoutLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")

	h.flaky.failNext("MarkEscrowFinished", 3)
	confirmed := h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "1000")
	h.bus.Wait()

	h.ledger.FailFind(ledger.ErrLookupUnsupported)
	inv, err := h.store.GetInvestment(ctx, confirmed.Investment.Id)
	require.NoError(t, err)
	item := h.services.Escrow.ReleaseEscrow(ctx, inv)
	assert.Equal(t, batch.Failed, item.Outcome)
	assert.Equal(t, reasonReleaseUnconfirmed, item.Reason)
	assert.Equal(t, 1, h.ledger.FinishCount())
}

func TestEscrowAlreadyFinishedOnLedgerIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")

	h.flaky.failNext("MarkEscrowFinished", 3)
	confirmed := h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "1000")
	h.bus.Wait()

	// 提交标记丢失时，重复释放被账本以 tecNO_TARGET 拒绝，再按引用查到首次释放
	require.NoError(t, h.store.SetEscrowFinishSubmitted(ctx, confirmed.Investment.Id, nil))
	inv, err := h.store.GetInvestment(ctx, confirmed.Investment.Id)
	require.NoError(t, err)
	item := h.services.Escrow.ReleaseEscrow(ctx, inv)
	assert.Equal(t, batch.Succeeded, item.Outcome)
	assert.True(t, strings.HasPrefix(item.TxHash, "FIN"))
	assert.Equal(t, 2, h.ledger.FinishCount())

	inv, err = h.store.GetInvestment(ctx, confirmed.Investment.Id)
	require.NoError(t, err)
	assert.True(t, inv.EscrowFinished)
	assert.Equal(t, item.TxHash, inv.EscrowFinishTxHash)
}
