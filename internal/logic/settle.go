package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/logger"
)

// 提交结果无法确认时的失败原因码，需要查账后才能重试
const (
	reasonTransferUnconfirmed = "transfer_unconfirmed"
	reasonPaymentUnconfirmed  = "payment_unconfirmed"
	reasonReleaseUnconfirmed  = "release_unconfirmed"
)

const (
	defaultRecordRetries      = 3
	defaultRecordRetryBackoff = 200 * time.Millisecond
)

// persist 账本已生效后的落库，失败时按递增间隔重试
func persist(ctx context.Context, opts Options, what string, write func() error) error {
	attempts := opts.RecordRetries
	if attempts <= 0 {
		attempts = defaultRecordRetries
	}
	backoff := opts.RecordRetryBackoff
	if backoff <= 0 {
		backoff = defaultRecordRetryBackoff
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		logger.Warn("Failed to record %s (attempt %d/%d): %v", what, attempt, attempts, err)

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// definitelyRejected 账本明确拒绝，交易不会再生效，ter 类结果仍可能被排队执行
func definitelyRejected(err error) bool {
	code := ledger.RejectionCode(err)
	return code != "" && !strings.HasPrefix(code, "ter")
}

// settledOnLedger 查找此前带引用提交的交易
// 返回 nil, nil 表示账本上没有生效的交易，可以重新提交；返回错误表示结果仍未知
func settledOnLedger(ctx context.Context, finder ledger.TransactionFinder, account, reference string) (*ledger.Transaction, error) {
	tx, err := finder.FindTransaction(ctx, account, reference)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case !tx.Verified:
		return nil, fmt.Errorf("transaction %s for %s is not validated yet", tx.Hash, reference)
	case !tx.Success:
		return nil, nil
	}
	return tx, nil
}
