// Package batch 批量处理：逐项执行并汇总结果
package batch

import (
	"github.com/shopspring/decimal"
)

// Outcome 单项结果
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Skipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Item 单个收款人/投资项的处理结果
type Item struct {
	Key     string          `json:"key"`
	Address string          `json:"address,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Outcome Outcome         `json:"outcome"`
	TxHash  string          `json:"tx_hash,omitempty"`
	Reason  string          `json:"reason,omitempty"` // 机器可读原因码
	Message string          `json:"message,omitempty"`
}

func Success(key, address string, amount decimal.Decimal, txHash string) Item {
	return Item{Key: key, Address: address, Amount: amount, Outcome: Succeeded, TxHash: txHash}
}

func Failure(key, address string, amount decimal.Decimal, reason string, err error) Item {
	item := Item{Key: key, Address: address, Amount: amount, Outcome: Failed, Reason: reason}
	if err != nil {
		item.Message = err.Error()
	}
	return item
}

func Skip(key, address string, amount decimal.Decimal, reason string) Item {
	return Item{Key: key, Address: address, Amount: amount, Outcome: Skipped, Reason: reason}
}

// Result 批量汇总
type Result struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Amount    decimal.Decimal `json:"amount"` // 成功项金额合计
	Items     []Item          `json:"items"`
	Failures  []Item          `json:"failures"` // 失败和跳过的项
}

// Summarize 纯折叠，不修改 items
func Summarize(items []Item) Result {
	r := Result{Total: len(items), Amount: decimal.Zero, Items: items, Failures: []Item{}}
	for _, it := range items {
		switch it.Outcome {
		case Succeeded:
			r.Succeeded++
			r.Amount = r.Amount.Add(it.Amount)
		case Failed:
			r.Failed++
			r.Failures = append(r.Failures, it)
		case Skipped:
			r.Skipped++
			r.Failures = append(r.Failures, it)
		}
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	return r
}

// AllSucceeded 至少一项且没有失败或跳过
func (r Result) AllSucceeded() bool {
	return r.Total > 0 && r.Succeeded == r.Total
}

// Clean 没有失败项（允许为空）
func (r Result) Clean() bool {
	return r.Failed == 0 && r.Skipped == 0
}
