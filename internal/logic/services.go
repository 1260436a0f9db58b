// Package logic 募资核心：募资进度、托管释放、代币分发与分红，以及 HTTP 层调用的管理操作
package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/repository"
	"github.com/shopspring/decimal"
)

// Publisher 领域事件投递，*event.Bus 满足该接口
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Options 业务参数
type Options struct {
	PlatformAddress   string
	PlatformSecret    string
	NativeAsset       string
	Concurrency       int
	MinInvestment     decimal.Decimal
	AmountTolerance   decimal.Decimal
	EscrowFinishAfter time.Duration
	// 账本成功后落库失败的重试
	RecordRetries      int
	RecordRetryBackoff time.Duration
}

// OptionsFromConfig 由配置构造业务参数
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	minAmount, err := decimal.NewFromString(cfg.Investment.MinAmount)
	if err != nil {
		return Options{}, fmt.Errorf("invalid investment.min_amount %q: %w", cfg.Investment.MinAmount, err)
	}
	tolerance, err := decimal.NewFromString(cfg.Investment.AmountTolerance)
	if err != nil {
		return Options{}, fmt.Errorf("invalid investment.amount_tolerance %q: %w", cfg.Investment.AmountTolerance, err)
	}
	return Options{
		PlatformAddress:   cfg.Ledger.PlatformAddress,
		PlatformSecret:    cfg.Ledger.PlatformSecret,
		NativeAsset:       cfg.Ledger.NativeAsset,
		Concurrency:       cfg.Dispatch.Concurrency,
		MinInvestment:     minAmount,
		AmountTolerance:   tolerance,
		EscrowFinishAfter: time.Duration(cfg.Investment.EscrowFinishAfter) * time.Second,

		RecordRetries:      cfg.Dispatch.RecordRetries,
		RecordRetryBackoff: time.Duration(cfg.Dispatch.RecordRetryBackoff) * time.Millisecond,
	}, nil
}

// Services 业务逻辑集合
type Services struct {
	Campaign   *CampaignLogic
	Investment *InvestmentLogic
	Funding    *FundingTracker
	Escrow     *EscrowManager
	Token      *TokenEngine
	Dividend   *DividendEngine
	Outbox     *Outbox
}

// NewServices 组装业务逻辑
func NewServices(store repository.Store, gateway ledger.Gateway, locker lock.Locker, publisher Publisher, opts Options) *Services {
	funding := NewFundingTracker(store, locker, publisher)
	escrow := NewEscrowManager(store, gateway, locker, publisher, opts)
	return &Services{
		Campaign:   NewCampaignLogic(store),
		Investment: NewInvestmentLogic(store, gateway, funding, escrow, opts),
		Funding:    funding,
		Escrow:     escrow,
		Token:      NewTokenEngine(store, gateway, locker, publisher, opts),
		Dividend:   NewDividendEngine(store, gateway, locker, publisher, opts),
		Outbox:     NewOutbox(store, publisher),
	}
}

// RegisterProcessors 注册核心事件处理器
func (s *Services) RegisterProcessors(bus *event.Bus) {
	bus.Register(event.TypeThresholdCrossed, NewThresholdCrossedProcessor(s.Escrow, s.Outbox))
}

// notFound 存储层不存在映射为业务错误
func notFound(err error, sentinel *Error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return sentinel
	}
	return err
}

// sameAddress EVM 地址大小写不敏感
func sameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// acquire 获取按键锁
func acquire(ctx context.Context, locker lock.Locker, key string) (func(), error) {
	unlock, err := locker.Lock(ctx, key)
	if err != nil {
		return nil, ErrLockUnavailable.Withf("could not acquire lock %s", key).Wrap(err)
	}
	return unlock, nil
}

// publish 发布失败只记录日志，依赖发件箱或下次触发补偿
func publish(ctx context.Context, publisher Publisher, t event.Type, campaignID string, payload interface{}) {
	if publisher == nil {
		return
	}
	e, err := event.New(t, campaignID, payload)
	if err != nil {
		logger.Error("Failed to build %s event for campaign %s: %v", t, campaignID, err)
		return
	}
	if err := publisher.Publish(ctx, e); err != nil {
		logger.Warn("Failed to publish %s event for campaign %s: %v", t, campaignID, err)
	}
}
