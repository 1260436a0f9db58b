package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound 账本尚无该交易
var ErrNotFound = errors.New("ledger: transaction not found")

// ErrUnreachable 节点不可达或超时
var ErrUnreachable = errors.New("ledger: unreachable")

// ErrLookupUnsupported 账本不支持按引用检索交易
var ErrLookupUnsupported = errors.New("ledger: lookup by reference unsupported")

// CodeNoTarget 托管对象不存在（已释放或已取消）
const CodeNoTarget = "tecNO_TARGET"

// RejectedError 账本返回非成功结果码
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger rejected: %s", e.Code)
	}
	return fmt.Sprintf("ledger rejected: %s: %s", e.Code, e.Message)
}

// Rejected 构造拒绝错误
func Rejected(code, message string) error {
	return &RejectedError{Code: code, Message: message}
}

// RejectionCode 提取结果码，非拒绝错误返回空
func RejectionCode(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Code
	}
	return ""
}
