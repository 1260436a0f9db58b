package logic

import (
	"errors"
	"fmt"

	"github.com/blues/fundledger/internal/ledger"
)

// Kind 错误分类
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPrecondition
	KindExternalDependency
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindPrecondition:
		return "Precondition"
	case KindExternalDependency:
		return "ExternalDependency"
	case KindIntegrity:
		return "Integrity"
	default:
		return "Unknown"
	}
}

// Error 业务错误，Reason 为机器可读原因码
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 原因码相同即视为同一错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// Withf 附加上下文后的副本
func (e *Error) Withf(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Wrap 携带底层错误的副本
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

func newError(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// 校验错误
var (
	ErrInvalidAmount           = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrAmountBelowMinimum      = newError(KindValidation, "amount_below_minimum", "amount is below the minimum investment")
	ErrMissingField            = newError(KindValidation, "missing_field", "required field is missing")
	ErrInvalidDistributionType = newError(KindValidation, "invalid_distribution_type", "unknown distribution type")
	ErrUnsupportedTransaction  = newError(KindValidation, "unsupported_transaction", "transaction type cannot confirm an investment")
	ErrTransactionMismatch     = newError(KindValidation, "transaction_mismatch", "transaction does not match the investment")
)

// 前置条件错误
var (
	ErrCampaignNotFound        = newError(KindPrecondition, "campaign_not_found", "campaign not found")
	ErrInvestorNotFound        = newError(KindPrecondition, "investor_not_found", "investor not found")
	ErrInvestmentNotFound      = newError(KindPrecondition, "investment_not_found", "investment not found")
	ErrDividendNotFound        = newError(KindPrecondition, "dividend_not_found", "dividend not found")
	ErrCampaignNotActive       = newError(KindPrecondition, "campaign_not_active", "campaign is not active")
	ErrCampaignEnded           = newError(KindPrecondition, "campaign_ended", "campaign has ended")
	ErrGoalAlreadyReached      = newError(KindPrecondition, "goal_already_reached", "campaign goal already reached")
	ErrGoalNotReached          = newError(KindPrecondition, "goal_not_reached", "campaign goal not reached")
	ErrInvalidCampaignStatus   = newError(KindPrecondition, "invalid_campaign_status", "campaign status does not allow this operation")
	ErrTokenNotIssued          = newError(KindPrecondition, "token_not_issued", "campaign has no token")
	ErrTokenAlreadyIssued      = newError(KindPrecondition, "token_already_issued", "campaign token already issued")
	ErrNoConfirmedInvestments  = newError(KindPrecondition, "no_confirmed_investments", "campaign has no confirmed investments")
	ErrNoTokenHolders          = newError(KindPrecondition, "no_token_distributions", "campaign token has not been distributed")
	ErrInsufficientBalance     = newError(KindPrecondition, "insufficient_balance", "platform balance is insufficient")
	ErrRecipientAddressMissing = newError(KindPrecondition, "recipient_address_missing", "recipient has no settlement address")
	ErrEscrowNotCreated        = newError(KindPrecondition, "escrow_not_created", "investment has no escrow")
)

// 外部依赖错误
var (
	ErrLedgerUnavailable       = newError(KindExternalDependency, "ledger_unavailable", "ledger is unreachable")
	ErrLedgerRejected          = newError(KindExternalDependency, "ledger_rejected", "ledger rejected the transaction")
	ErrTransactionNotFound     = newError(KindExternalDependency, "transaction_not_found", "ledger has no record of the transaction")
	ErrTransactionNotValidated = newError(KindExternalDependency, "transaction_not_validated", "transaction is not validated yet")
	ErrTransactionFailed       = newError(KindExternalDependency, "transaction_failed", "transaction did not succeed")
	ErrLockUnavailable         = newError(KindExternalDependency, "lock_unavailable", "could not acquire lock")
)

// 完整性错误
var (
	ErrInvestmentAlreadyConfirmed = newError(KindIntegrity, "investment_already_confirmed", "investment already confirmed")
	ErrTransactionAlreadyUsed     = newError(KindIntegrity, "transaction_already_used", "transaction already confirmed another investment")
	ErrEscrowAlreadyCreated       = newError(KindIntegrity, "escrow_already_created", "investment escrow already created")
	ErrTokenAlreadyDistributed    = newError(KindIntegrity, "token_already_distributed", "token already fully distributed")
)

// KindOf 对任意错误分类，账本错误归为外部依赖
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) || errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrUnreachable) {
		return KindExternalDependency
	}
	return KindUnknown
}

// ReasonOf 错误的原因码，用于批量项
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	var rejected *ledger.RejectedError
	switch {
	case errors.As(err, &rejected):
		return ErrLedgerRejected.Reason
	case errors.Is(err, ledger.ErrNotFound):
		return ErrTransactionNotFound.Reason
	case errors.Is(err, ledger.ErrUnreachable):
		return ErrLedgerUnavailable.Reason
	default:
		return "internal_error"
	}
}

// ledgerError 把网关错误映射为业务错误
func ledgerError(err error) *Error {
	var rejected *ledger.RejectedError
	switch {
	case errors.As(err, &rejected):
		return ErrLedgerRejected.Wrap(err)
	case errors.Is(err, ledger.ErrNotFound):
		return ErrTransactionNotFound.Wrap(err)
	default:
		return ErrLedgerUnavailable.Wrap(err)
	}
}
