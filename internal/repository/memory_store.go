package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blues/fundledger/internal/model"
	"github.com/shopspring/decimal"
)

// memoryState 内存表，记录按值保存，读写都返回副本
type memoryState struct {
	campaigns     map[string]model.CampaignModel
	investors     map[string]model.InvestorModel
	investments   map[string]model.InvestmentModel
	tokens        map[string]model.TokenModel
	distributions map[string]model.TokenDistributionModel
	dividends     map[string]model.DividendModel
	payments      map[string]model.DividendPaymentModel
	events        map[string]model.EventModel
	seq           map[string]int64
	nextSeq       int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		campaigns:     map[string]model.CampaignModel{},
		investors:     map[string]model.InvestorModel{},
		investments:   map[string]model.InvestmentModel{},
		tokens:        map[string]model.TokenModel{},
		distributions: map[string]model.TokenDistributionModel{},
		dividends:     map[string]model.DividendModel{},
		payments:      map[string]model.DividendPaymentModel{},
		events:        map[string]model.EventModel{},
		seq:           map[string]int64{},
	}
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		campaigns:     make(map[string]model.CampaignModel, len(st.campaigns)),
		investors:     make(map[string]model.InvestorModel, len(st.investors)),
		investments:   make(map[string]model.InvestmentModel, len(st.investments)),
		tokens:        make(map[string]model.TokenModel, len(st.tokens)),
		distributions: make(map[string]model.TokenDistributionModel, len(st.distributions)),
		dividends:     make(map[string]model.DividendModel, len(st.dividends)),
		payments:      make(map[string]model.DividendPaymentModel, len(st.payments)),
		events:        make(map[string]model.EventModel, len(st.events)),
		seq:           make(map[string]int64, len(st.seq)),
		nextSeq:       st.nextSeq,
	}
	for k, v := range st.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range st.investors {
		c.investors[k] = v
	}
	for k, v := range st.investments {
		c.investments[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	for k, v := range st.distributions {
		c.distributions[k] = v
	}
	for k, v := range st.dividends {
		c.dividends[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	return c
}

// MemoryStore 进程内 Store 实现，用于本地运行和测试
type MemoryStore struct {
	mu    *sync.Mutex
	state **memoryState
	inTx  bool
	now   func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	st := newMemoryState()
	return &MemoryStore{mu: &sync.Mutex{}, state: &st, now: time.Now}
}

// lock 事务内已持有锁
func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) st() *memoryState {
	return *s.state
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st().clone()
	tx := &MemoryStore{mu: s.mu, state: s.state, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		*s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) stamp(id string, created *time.Time, updated *time.Time) {
	now := s.now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
	st := s.st()
	if _, ok := st.seq[id]; !ok {
		st.nextSeq++
		st.seq[id] = st.nextSeq
	}
}

func (s *MemoryStore) bySeq(ids []string) {
	st := s.st()
	sort.Slice(ids, func(i, j int) bool { return st.seq[ids[i]] < st.seq[ids[j]] })
}

// 活动

func (s *MemoryStore) CreateCampaign(_ context.Context, campaign *model.CampaignModel) error {
	defer s.lock()()
	if _, ok := s.st().campaigns[campaign.Id]; ok {
		return ErrDuplicate
	}
	s.stamp(campaign.Id, &campaign.CreatedAt, &campaign.UpdatedAt)
	s.st().campaigns[campaign.Id] = *campaign
	return nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id string) (*model.CampaignModel, error) {
	defer s.lock()()
	c, ok := s.st().campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) IncrementCampaignAmount(_ context.Context, id string, amount decimal.Decimal) (bool, error) {
	defer s.lock()()
	c, ok := s.st().campaigns[id]
	if !ok || c.Status != model.CampaignStatusActive || c.CurrentAmount.GreaterThanOrEqual(c.GoalAmount) {
		return false, nil
	}
	c.CurrentAmount = c.CurrentAmount.Add(amount)
	c.UpdatedAt = s.now()
	s.st().campaigns[id] = c
	return true, nil
}

func (s *MemoryStore) TransitionCampaignStatus(_ context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	defer s.lock()()
	c, ok := s.st().campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = s.now()
	s.st().campaigns[id] = c
	return true, nil
}

func (s *MemoryStore) ListReleasableCampaigns(_ context.Context) ([]model.CampaignModel, error) {
	defer s.lock()()
	var ids []string
	for id, c := range s.st().campaigns {
		if c.Status == model.CampaignStatusActive && c.GoalReached() {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.CampaignModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st().campaigns[id])
	}
	return out, nil
}

// 投资人

func (s *MemoryStore) CreateInvestor(_ context.Context, investor *model.InvestorModel) error {
	defer s.lock()()
	if _, ok := s.st().investors[investor.Id]; ok {
		return ErrDuplicate
	}
	s.stamp(investor.Id, &investor.CreatedAt, &investor.UpdatedAt)
	s.st().investors[investor.Id] = *investor
	return nil
}

func (s *MemoryStore) GetInvestor(_ context.Context, id string) (*model.InvestorModel, error) {
	defer s.lock()()
	i, ok := s.st().investors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &i, nil
}

// 投资

func (s *MemoryStore) CreateInvestment(_ context.Context, investment *model.InvestmentModel) error {
	defer s.lock()()
	if _, ok := s.st().investments[investment.Id]; ok {
		return ErrDuplicate
	}
	if investment.TransactionHash != nil && s.hashTaken(*investment.TransactionHash) {
		return ErrDuplicate
	}
	s.stamp(investment.Id, &investment.CreatedAt, &investment.UpdatedAt)
	s.st().investments[investment.Id] = *investment
	return nil
}

func (s *MemoryStore) hashTaken(hash string) bool {
	for _, inv := range s.st().investments {
		if inv.TransactionHash != nil && *inv.TransactionHash == hash {
			return true
		}
	}
	return false
}

func (s *MemoryStore) GetInvestment(_ context.Context, id string) (*model.InvestmentModel, error) {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (s *MemoryStore) ConfirmInvestment(_ context.Context, id, txHash string, at time.Time) (bool, error) {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok || inv.TransactionHash != nil {
		return false, nil
	}
	if s.hashTaken(txHash) {
		return false, ErrDuplicate
	}
	hash := txHash
	confirmedAt := at
	inv.TransactionHash = &hash
	inv.Status = model.InvestmentStatusConfirmed
	inv.ConfirmedAt = &confirmedAt
	inv.UpdatedAt = s.now()
	s.st().investments[id] = inv
	return true, nil
}

func (s *MemoryStore) SetEscrowCondition(_ context.Context, id, condition, preimage string) (bool, error) {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok || inv.EscrowCondition != "" {
		return false, nil
	}
	inv.EscrowCondition = condition
	inv.EscrowPreimage = preimage
	inv.UpdatedAt = s.now()
	s.st().investments[id] = inv
	return true, nil
}

func (s *MemoryStore) RecordEscrowCreated(_ context.Context, id string, sequence uint64, txHash string) (bool, error) {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok || inv.EscrowSequence != nil {
		return false, nil
	}
	seq := sequence
	inv.EscrowSequence = &seq
	inv.EscrowTxHash = txHash
	inv.UpdatedAt = s.now()
	s.st().investments[id] = inv
	return true, nil
}

func (s *MemoryStore) SetEscrowFinishSubmitted(_ context.Context, id string, at *time.Time) error {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok {
		return ErrNotFound
	}
	inv.EscrowFinishSubmittedAt = copyTime(at)
	inv.UpdatedAt = s.now()
	s.st().investments[id] = inv
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *MemoryStore) MarkEscrowFinished(_ context.Context, id, finishTxHash string, at time.Time) (bool, error) {
	defer s.lock()()
	inv, ok := s.st().investments[id]
	if !ok || inv.EscrowFinished {
		return false, nil
	}
	finishedAt := at
	inv.EscrowFinished = true
	inv.EscrowFinishedAt = &finishedAt
	inv.EscrowFinishTxHash = finishTxHash
	inv.UpdatedAt = s.now()
	s.st().investments[id] = inv
	return true, nil
}

func (s *MemoryStore) confirmedInvestments(campaignID string) []model.InvestmentModel {
	var ids []string
	for id, inv := range s.st().investments {
		if inv.CampaignId == campaignID && inv.Confirmed() {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.InvestmentModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st().investments[id])
	}
	return out
}

func (s *MemoryStore) ListConfirmedInvestments(_ context.Context, campaignID string) ([]model.InvestmentModel, error) {
	defer s.lock()()
	return s.confirmedInvestments(campaignID), nil
}

func (s *MemoryStore) ListInvestmentsByInvestor(_ context.Context, investorID string) ([]model.InvestmentModel, error) {
	defer s.lock()()
	var ids []string
	for id, inv := range s.st().investments {
		if inv.InvestorId == investorID {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.InvestmentModel, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.st().investments[ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) SumConfirmedInvestments(_ context.Context, campaignID string) (decimal.Decimal, error) {
	defer s.lock()()
	total := decimal.Zero
	for _, inv := range s.confirmedInvestments(campaignID) {
		total = total.Add(inv.Amount)
	}
	return total, nil
}

// 代币

func (s *MemoryStore) CreateToken(_ context.Context, token *model.TokenModel) error {
	defer s.lock()()
	for _, t := range s.st().tokens {
		if t.CampaignId == token.CampaignId {
			return ErrDuplicate
		}
	}
	s.stamp(token.Id, &token.CreatedAt, &token.UpdatedAt)
	s.st().tokens[token.Id] = *token
	return nil
}

func (s *MemoryStore) GetTokenByCampaign(_ context.Context, campaignID string) (*model.TokenModel, error) {
	defer s.lock()()
	for _, t := range s.st().tokens {
		if t.CampaignId == campaignID {
			token := t
			return &token, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) TransitionTokenStatus(_ context.Context, id string, from, to model.TokenStatus) (bool, error) {
	defer s.lock()()
	t, ok := s.st().tokens[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = s.now()
	s.st().tokens[id] = t
	return true, nil
}

func (s *MemoryStore) AddTokenDistributed(_ context.Context, id string, amount decimal.Decimal) error {
	defer s.lock()()
	t, ok := s.st().tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.DistributedAmount = t.DistributedAmount.Add(amount)
	t.UpdatedAt = s.now()
	s.st().tokens[id] = t
	return nil
}

func (s *MemoryStore) CreateTokenDistribution(_ context.Context, distribution *model.TokenDistributionModel) error {
	defer s.lock()()
	for _, d := range s.st().distributions {
		if d.TokenId == distribution.TokenId && d.InvestorAddress == distribution.InvestorAddress {
			return ErrDuplicate
		}
	}
	if distribution.Status == "" {
		distribution.Status = model.DistributionStatusPending
	}
	s.stamp(distribution.Id, &distribution.CreatedAt, &distribution.UpdatedAt)
	s.st().distributions[distribution.Id] = *distribution
	return nil
}

func (s *MemoryStore) SetTokenDistributionSubmitted(_ context.Context, id string, at *time.Time) error {
	defer s.lock()()
	d, ok := s.st().distributions[id]
	if !ok {
		return ErrNotFound
	}
	d.SubmittedAt = copyTime(at)
	d.UpdatedAt = s.now()
	s.st().distributions[id] = d
	return nil
}

func (s *MemoryStore) CompleteTokenDistribution(_ context.Context, id, txHash string, at time.Time) (bool, error) {
	defer s.lock()()
	d, ok := s.st().distributions[id]
	if !ok || d.Status != model.DistributionStatusPending {
		return false, nil
	}
	d.Status = model.DistributionStatusSuccess
	d.TransactionHash = txHash
	d.DistributedAt = copyTime(&at)
	d.UpdatedAt = s.now()
	s.st().distributions[id] = d
	return true, nil
}

func (s *MemoryStore) ListTokenDistributions(_ context.Context, tokenID string) ([]model.TokenDistributionModel, error) {
	defer s.lock()()
	var ids []string
	for id, d := range s.st().distributions {
		if d.TokenId == tokenID {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.TokenDistributionModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st().distributions[id])
	}
	return out, nil
}

// 分红

func (s *MemoryStore) CreateDividend(_ context.Context, dividend *model.DividendModel) error {
	defer s.lock()()
	if _, ok := s.st().dividends[dividend.Id]; ok {
		return ErrDuplicate
	}
	s.stamp(dividend.Id, &dividend.CreatedAt, &dividend.UpdatedAt)
	s.st().dividends[dividend.Id] = *dividend
	return nil
}

func (s *MemoryStore) GetDividend(_ context.Context, id string) (*model.DividendModel, error) {
	defer s.lock()()
	d, ok := s.st().dividends[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) ListDividendsByCampaign(_ context.Context, campaignID string) ([]model.DividendModel, error) {
	defer s.lock()()
	var ids []string
	for id, d := range s.st().dividends {
		if d.CampaignId == campaignID {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.DividendModel, 0, len(ids))
	// 新的在前
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.st().dividends[ids[i]])
	}
	return out, nil
}

func (s *MemoryStore) UpdateDividendOutcome(_ context.Context, id string, status model.DividendStatus, distributed decimal.Decimal, completedAt *time.Time) error {
	defer s.lock()()
	d, ok := s.st().dividends[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.DistributedAmount = distributed
	d.CompletedAt = completedAt
	d.UpdatedAt = s.now()
	s.st().dividends[id] = d
	return nil
}

func (s *MemoryStore) CreateDividendPayments(_ context.Context, payments []*model.DividendPaymentModel) error {
	defer s.lock()()
	for _, p := range payments {
		if _, ok := s.st().payments[p.Id]; ok {
			return ErrDuplicate
		}
	}
	for _, p := range payments {
		s.stamp(p.Id, &p.CreatedAt, &p.UpdatedAt)
		s.st().payments[p.Id] = *p
	}
	return nil
}

func (s *MemoryStore) UpdateDividendPayment(_ context.Context, payment *model.DividendPaymentModel) error {
	defer s.lock()()
	p, ok := s.st().payments[payment.Id]
	if !ok {
		return ErrNotFound
	}
	p.Status = payment.Status
	p.TransactionHash = payment.TransactionHash
	p.ErrorMessage = payment.ErrorMessage
	p.SubmittedAt = copyTime(payment.SubmittedAt)
	p.PaidAt = copyTime(payment.PaidAt)
	p.UpdatedAt = s.now()
	s.st().payments[payment.Id] = p
	return nil
}

func (s *MemoryStore) ListDividendPayments(_ context.Context, dividendID string) ([]model.DividendPaymentModel, error) {
	defer s.lock()()
	var ids []string
	for id, p := range s.st().payments {
		if p.DividendId == dividendID {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	out := make([]model.DividendPaymentModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st().payments[id])
	}
	return out, nil
}

// 发件箱

func (s *MemoryStore) CreateEvent(_ context.Context, event *model.EventModel) error {
	defer s.lock()()
	if _, ok := s.st().events[event.Id]; ok {
		return ErrDuplicate
	}
	s.stamp(event.Id, &event.CreatedAt, &event.UpdatedAt)
	s.st().events[event.Id] = *event
	return nil
}

func (s *MemoryStore) MarkEventProcessed(_ context.Context, id string, at time.Time) error {
	defer s.lock()()
	e, ok := s.st().events[id]
	if !ok {
		return ErrNotFound
	}
	processedAt := at
	e.Processed = true
	e.ProcessedAt = &processedAt
	e.UpdatedAt = s.now()
	s.st().events[id] = e
	return nil
}

func (s *MemoryStore) IncrementEventAttempts(_ context.Context, id string) error {
	defer s.lock()()
	e, ok := s.st().events[id]
	if !ok {
		return ErrNotFound
	}
	e.Attempts++
	s.st().events[id] = e
	return nil
}

func (s *MemoryStore) ListPendingEvents(_ context.Context, createdBefore time.Time, limit int) ([]model.EventModel, error) {
	defer s.lock()()
	var ids []string
	for id, e := range s.st().events {
		if !e.Processed && e.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
		}
	}
	s.bySeq(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.EventModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.st().events[id])
	}
	return out, nil
}
