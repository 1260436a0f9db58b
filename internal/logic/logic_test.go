package logic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/batch"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/ledger/ledgertest"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	platformAddress = "rPlatformAccount"
	platformSecret  = "sPlatformSecret"
)

var xrp = ledger.Asset{Code: "XRP"}

type harness struct {
	store    *repository.MemoryStore
	flaky    *flakyStore
	ledger   *ledgertest.Ledger
	bus      *event.Bus
	services *Services
}

var errStoreDown = errors.New("store unavailable")

// flakyStore 按方法名注入写失败，事务内的写同样生效
type flakyStore struct {
	repository.Store
	mu       *sync.Mutex
	failures map[string]int
}

func newFlakyStore(store repository.Store) *flakyStore {
	return &flakyStore{Store: store, mu: &sync.Mutex{}, failures: map[string]int{}}
}

// failNext 让 method 接下来的 n 次调用失败
func (f *flakyStore) failNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = n
}

func (f *flakyStore) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[method] > 0 {
		f.failures[method]--
		return errStoreDown
	}
	return nil
}

func (f *flakyStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.Transaction(ctx, func(tx repository.Store) error {
		return fn(&flakyStore{Store: tx, mu: f.mu, failures: f.failures})
	})
}

func (f *flakyStore) MarkEscrowFinished(ctx context.Context, id, finishTxHash string, at time.Time) (bool, error) {
	if err := f.fail("MarkEscrowFinished"); err != nil {
		return false, err
	}
	return f.Store.MarkEscrowFinished(ctx, id, finishTxHash, at)
}

func (f *flakyStore) CompleteTokenDistribution(ctx context.Context, id, txHash string, at time.Time) (bool, error) {
	if err := f.fail("CompleteTokenDistribution"); err != nil {
		return false, err
	}
	return f.Store.CompleteTokenDistribution(ctx, id, txHash, at)
}

// UpdateDividendPayment 只拦截写入成功状态
func (f *flakyStore) UpdateDividendPayment(ctx context.Context, payment *model.DividendPaymentModel) error {
	if payment.Status == model.PaymentStatusSuccess {
		if err := f.fail("UpdateDividendPayment"); err != nil {
			return err
		}
	}
	return f.Store.UpdateDividendPayment(ctx, payment)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	flaky := newFlakyStore(store)
	l := ledgertest.New()
	l.RegisterAccount(platformSecret, platformAddress)

	bus, err := event.NewBus(2)
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	opts := Options{
		PlatformAddress:   platformAddress,
		PlatformSecret:    platformSecret,
		NativeAsset:       "XRP",
		Concurrency:       4,
		MinInvestment:     decimal.NewFromInt(1),
		AmountTolerance:   decimal.RequireFromString("0.000001"),
		EscrowFinishAfter: time.Hour,

		RecordRetries:      3,
		RecordRetryBackoff: time.Millisecond,
	}
	services := NewServices(flaky, l, lock.NewMemoryLocker(), bus, opts)
	services.RegisterProcessors(bus)
	return &harness{store: store, flaky: flaky, ledger: l, bus: bus, services: services}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) activeCampaign(t *testing.T, goal string) *model.CampaignModel {
	t.Helper()
	ctx := context.Background()
	c, err := h.services.Campaign.CreateCampaign(ctx, CreateCampaignRequest{
		Title:      "Solar Farm",
		GoalAmount: d(goal),
		EndDate:    time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	c, err = h.services.Campaign.ActivateCampaign(ctx, c.Id)
	require.NoError(t, err)
	return c
}

func (h *harness) investor(t *testing.T, name, wallet string) *model.InvestorModel {
	t.Helper()
	inv, err := h.services.Campaign.CreateInvestor(context.Background(), CreateInvestorRequest{Name: name, WalletAddress: wallet})
	require.NoError(t, err)
	return inv
}

// investViaEscrow 投资人自行提交托管后确认
func (h *harness) investViaEscrow(t *testing.T, campaignID string, investor *model.InvestorModel, amount string) *ConfirmResult {
	t.Helper()
	ctx := context.Background()
	intent, err := h.services.Investment.CreateInvestmentIntent(ctx, campaignID, investor.Id, d(amount))
	require.NoError(t, err)

	receipt, err := h.ledger.CreateEscrow(ctx, ledger.CreateEscrowRequest{
		OwnerKey:    investor.WalletAddress,
		Destination: intent.Destination,
		Amount:      d(amount),
		Condition:   intent.Condition,
		FinishAfter: intent.FinishAfter,
	})
	require.NoError(t, err)

	result, err := h.services.Investment.ConfirmInvestment(ctx, intent.Investment.Id, receipt.TxHash)
	require.NoError(t, err)
	return result
}

// investViaPayment 直接付款到平台地址后确认
func (h *harness) investViaPayment(t *testing.T, campaignID string, investor *model.InvestorModel, amount string) *ConfirmResult {
	t.Helper()
	ctx := context.Background()
	intent, err := h.services.Investment.CreateInvestmentIntent(ctx, campaignID, investor.Id, d(amount))
	require.NoError(t, err)

	hash := "PAYIN-" + intent.Investment.Id
	h.addPayment(hash, investor.WalletAddress, platformAddress, amount)
	result, err := h.services.Investment.ConfirmInvestment(ctx, intent.Investment.Id, hash)
	require.NoError(t, err)
	return result
}

func (h *harness) addPayment(hash, from, to, amount string) {
	h.ledger.AddTransaction(ledger.Transaction{
		Hash:        hash,
		Verified:    true,
		Success:     true,
		Type:        ledger.TxTypePayment,
		Account:     from,
		Destination: to,
		Amount:      d(amount),
		Asset:       xrp,
		ResultCode:  "tesSUCCESS",
	})
}

func (h *harness) campaign(t *testing.T, id string) *model.CampaignModel {
	t.Helper()
	c, err := h.store.GetCampaign(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestFundingCrossesThresholdOnceAndReleasesEscrows(t *testing.T) {
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	alice := h.investor(t, "Alice", "rAlice")
	bob := h.investor(t, "Bob", "rBob")

	first := h.investViaEscrow(t, c.Id, alice, "600")
	assert.True(t, first.Funding.NewTotal.Equal(d("600")))
	assert.False(t, first.Funding.CrossedThreshold)
	assert.Equal(t, model.InvestmentStatusConfirmed, first.Investment.Status)
	assert.Equal(t, model.EscrowStateCreated, first.Investment.EscrowState())

	second := h.investViaEscrow(t, c.Id, bob, "500")
	assert.True(t, second.Funding.NewTotal.Equal(d("1100")))
	assert.True(t, second.Funding.CrossedThreshold)

	h.bus.Wait()

	assert.Equal(t, model.CampaignStatusFunded, h.campaign(t, c.Id).Status)
	assert.Equal(t, 2, h.ledger.FinishCount())
	for _, f := range h.ledger.Finishes {
		assert.Equal(t, platformSecret, f.ReleaserKey)
		assert.NotEmpty(t, f.Fulfillment)
	}

	investments, err := h.store.ListConfirmedInvestments(context.Background(), c.Id)
	require.NoError(t, err)
	for _, inv := range investments {
		assert.True(t, inv.EscrowFinished)
	}

	pending, err := h.store.ListPendingEvents(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "1000")
	h.bus.Wait()
	require.Equal(t, 1, h.ledger.FinishCount())

	result, err := h.services.Escrow.ReleaseCampaignEscrows(context.Background(), c.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 1, h.ledger.FinishCount())

	inv, err := h.store.ListConfirmedInvestments(context.Background(), c.Id)
	require.NoError(t, err)
	item := h.services.Escrow.ReleaseEscrow(context.Background(), &inv[0])
	assert.Equal(t, batch.Succeeded, item.Outcome)
	assert.Equal(t, 1, h.ledger.FinishCount())
}

func TestFailedReleaseKeepsCampaignActiveUntilRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	first := h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "600")
	h.ledger.FailFinish(*first.Investment.EscrowSequence, ledger.Rejected("tecNO_PERMISSION", "finish too early"))
	h.investViaEscrow(t, c.Id, h.investor(t, "Bob", "rBob"), "500")
	h.bus.Wait()

	assert.Equal(t, model.CampaignStatusActive, h.campaign(t, c.Id).Status)
	assert.Equal(t, 2, h.ledger.FinishCount())

	pending, err := h.store.ListPendingEvents(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	h.ledger.ClearFailures()
	h.services.Outbox.now = func() time.Time { return time.Now().Add(time.Minute) }
	replayed, err := h.services.Outbox.ReplayPending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	h.bus.Wait()

	// 只重试失败的那一笔
	assert.Equal(t, 3, h.ledger.FinishCount())
	assert.Equal(t, model.CampaignStatusFunded, h.campaign(t, c.Id).Status)

	pending, err = h.store.ListPendingEvents(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCheckAndReleaseEscrowsSweepsFundedCampaigns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "100")
	first := h.investViaEscrow(t, c.Id, h.investor(t, "Alice", "rAlice"), "100")
	h.ledger.FailFinish(*first.Investment.EscrowSequence, ledger.ErrUnreachable)
	h.bus.Wait()
	require.Equal(t, model.CampaignStatusActive, h.campaign(t, c.Id).Status)

	h.ledger.ClearFailures()
	releases, err := h.services.Escrow.CheckAndReleaseEscrows(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, c.Id, releases[0].CampaignID)
	assert.Empty(t, releases[0].Error)
	assert.Equal(t, 1, releases[0].Result.Succeeded)
	assert.Equal(t, model.CampaignStatusFunded, h.campaign(t, c.Id).Status)
}

func TestConcurrentConfirmationsCrossExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")

	type pendingInvestment struct {
		id   string
		hash string
	}
	var intents []pendingInvestment
	for i := 0; i < 10; i++ {
		inv := h.investor(t, fmt.Sprintf("investor-%d", i), fmt.Sprintf("rInvestor%d", i))
		intent, err := h.services.Investment.CreateInvestmentIntent(ctx, c.Id, inv.Id, d("150"))
		require.NoError(t, err)
		hash := fmt.Sprintf("PAYIN%02d", i)
		h.addPayment(hash, inv.WalletAddress, platformAddress, "150")
		intents = append(intents, pendingInvestment{id: intent.Investment.Id, hash: hash})
	}

	var mu sync.Mutex
	crossed, confirmed := 0, 0
	var wg sync.WaitGroup
	for _, p := range intents {
		wg.Add(1)
		go func(p pendingInvestment) {
			defer wg.Done()
			result, err := h.services.Investment.ConfirmInvestment(ctx, p.id, p.hash)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.Equal(t, KindPrecondition, KindOf(err), err.Error())
				return
			}
			confirmed++
			if result.Funding.CrossedThreshold {
				crossed++
			}
		}(p)
	}
	wg.Wait()
	h.bus.Wait()

	assert.Equal(t, 1, crossed)
	assert.Equal(t, 7, confirmed)
	assert.True(t, h.campaign(t, c.Id).CurrentAmount.Equal(d("1050")))
}

func TestConfirmInvestmentRejectsMismatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	alice := h.investor(t, "Alice", "rAlice")

	intent, err := h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("100"))
	require.NoError(t, err)
	id := intent.Investment.Id

	h.addPayment("WRONGDEST", "rAlice", "rSomeoneElse", "100")
	h.addPayment("WRONGAMOUNT", "rAlice", platformAddress, "99")
	h.ledger.AddTransaction(ledger.Transaction{Hash: "UNVALIDATED", Type: ledger.TxTypePayment, Destination: platformAddress, Amount: d("100")})
	h.ledger.AddTransaction(ledger.Transaction{Hash: "FAILED", Verified: true, ResultCode: "tecUNFUNDED_PAYMENT", Type: ledger.TxTypePayment})
	h.ledger.AddTransaction(ledger.Transaction{Hash: "TRUSTSET", Verified: true, Success: true, Type: ledger.TxTypeTrustSet})
	h.ledger.AddTransaction(ledger.Transaction{Hash: "BADCOND", Verified: true, Success: true, Type: ledger.TxTypeEscrowCreate,
		Destination: platformAddress, Amount: d("100"), Condition: "DEADBEEF", Sequence: 7})

	cases := []struct {
		hash string
		want *Error
	}{
		{"", ErrMissingField},
		{"UNKNOWN", ErrTransactionNotFound},
		{"UNVALIDATED", ErrTransactionNotValidated},
		{"FAILED", ErrTransactionFailed},
		{"TRUSTSET", ErrUnsupportedTransaction},
		{"BADCOND", ErrTransactionMismatch},
		{"WRONGDEST", ErrTransactionMismatch},
		{"WRONGAMOUNT", ErrTransactionMismatch},
	}
	for _, tc := range cases {
		_, err := h.services.Investment.ConfirmInvestment(ctx, id, tc.hash)
		assert.ErrorIs(t, err, tc.want, "hash %q", tc.hash)
	}

	_, err = h.services.Investment.ConfirmInvestment(ctx, "missing", "WRONGDEST")
	assert.ErrorIs(t, err, ErrInvestmentNotFound)

	assert.True(t, h.campaign(t, c.Id).CurrentAmount.IsZero())
}

func TestConfirmInvestmentRejectsReuse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	alice := h.investor(t, "Alice", "rAlice")

	first := h.investViaPayment(t, c.Id, alice, "100")
	_, err := h.services.Investment.ConfirmInvestment(ctx, first.Investment.Id, *first.Investment.TransactionHash)
	assert.ErrorIs(t, err, ErrInvestmentAlreadyConfirmed)
	assert.Equal(t, KindIntegrity, KindOf(err))

	intent, err := h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("100"))
	require.NoError(t, err)
	_, err = h.services.Investment.ConfirmInvestment(ctx, intent.Investment.Id, *first.Investment.TransactionHash)
	assert.ErrorIs(t, err, ErrTransactionAlreadyUsed)

	assert.True(t, h.campaign(t, c.Id).CurrentAmount.Equal(d("100")))
}

func TestCreateInvestmentIntentPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.investor(t, "Alice", "rAlice")

	draft, err := h.services.Campaign.CreateCampaign(ctx, CreateCampaignRequest{Title: "Draft", GoalAmount: d("10"), EndDate: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, draft.Id, alice.Id, d("5"))
	assert.ErrorIs(t, err, ErrCampaignNotActive)

	c := h.activeCampaign(t, "10")
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("0.5"))
	assert.ErrorIs(t, err, ErrAmountBelowMinimum)
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, c.Id, "nobody", d("5"))
	assert.ErrorIs(t, err, ErrInvestorNotFound)
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, "missing", alice.Id, d("5"))
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	h.investViaPayment(t, c.Id, alice, "10")
	h.bus.Wait()
	_, err = h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("5"))
	assert.Equal(t, KindPrecondition, KindOf(err))
}

func TestPlatformSubmittedEscrow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	c := h.activeCampaign(t, "1000")
	alice := h.investor(t, "Alice", "rAlice")
	h.ledger.RegisterAccount("sAlice", "rAlice")

	intent, err := h.services.Investment.CreateInvestmentIntent(ctx, c.Id, alice.Id, d("250"))
	require.NoError(t, err)
	inv, err := h.services.Escrow.CreateEscrow(ctx, intent.Investment.Id, "sAlice", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStateCreated, inv.EscrowState())
	assert.Equal(t, platformAddress, h.ledger.Escrows[0].Destination)
	assert.Equal(t, intent.Condition, h.ledger.Escrows[0].Condition)

	_, err = h.services.Escrow.CreateEscrow(ctx, intent.Investment.Id, "sAlice", time.Time{})
	assert.ErrorIs(t, err, ErrEscrowAlreadyCreated)

	result, err := h.services.Investment.ConfirmInvestment(ctx, inv.Id, inv.EscrowTxHash)
	require.NoError(t, err)
	assert.Equal(t, *inv.EscrowSequence, *result.Investment.EscrowSequence)
}

func TestCreateEscrowCondition(t *testing.T) {
	condition, preimage, err := CreateEscrowCondition()
	require.NoError(t, err)
	assert.Len(t, condition, 64)
	assert.Len(t, preimage, 64)
	assert.NotEqual(t, condition, preimage)

	again, _, err := CreateEscrowCondition()
	require.NoError(t, err)
	assert.NotEqual(t, condition, again)
}

func TestCampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.services.Campaign.CreateCampaign(ctx, CreateCampaignRequest{Title: "", GoalAmount: d("1"), EndDate: time.Now()})
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = h.services.Campaign.CreateCampaign(ctx, CreateCampaignRequest{Title: "x", GoalAmount: d("0"), EndDate: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	c := h.activeCampaign(t, "200")
	_, err = h.services.Campaign.ActivateCampaign(ctx, c.Id)
	assert.ErrorIs(t, err, ErrInvalidCampaignStatus)
	_, err = h.services.Campaign.ActivateCampaign(ctx, "missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	h.investViaPayment(t, c.Id, h.investor(t, "Alice", "rAlice"), "50")
	view, err := h.services.Campaign.GetCampaign(ctx, c.Id)
	require.NoError(t, err)
	assert.True(t, view.Progress.Equal(d("25")))
	assert.False(t, view.Ended)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrInvalidAmount.Withf("bad")))
	assert.Equal(t, KindPrecondition, KindOf(fmt.Errorf("wrapped: %w", ErrGoalNotReached)))
	assert.Equal(t, KindExternalDependency, KindOf(ledger.Rejected("tecPATH_DRY", "")))
	assert.Equal(t, KindExternalDependency, KindOf(ledgerError(ledger.ErrUnreachable)))
	assert.Equal(t, KindIntegrity, KindOf(ErrTransactionAlreadyUsed))
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("boom")))

	assert.Equal(t, "ledger_rejected", ReasonOf(ledger.Rejected("tecPATH_DRY", "")))
	assert.Equal(t, "internal_error", ReasonOf(fmt.Errorf("boom")))
}
