package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	items := []Item{
		Success("a", "rA", decimal.RequireFromString("163.636364"), "H1"),
		Failure("b", "rB", decimal.RequireFromString("136.363636"), "ledger_rejected", errors.New("tecPATH_DRY")),
		Skip("c", "rC", decimal.NewFromInt(1), "trustline_missing"),
	}

	r := Summarize(items)
	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 1, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, "163.636364", r.Amount.String())
	require.Len(t, r.Failures, 2)
	assert.Equal(t, "ledger_rejected", r.Failures[0].Reason)
	assert.Equal(t, "tecPATH_DRY", r.Failures[0].Message)
	assert.False(t, r.AllSucceeded())
	assert.False(t, r.Clean())

	empty := Summarize(nil)
	assert.False(t, empty.AllSucceeded())
	assert.True(t, empty.Clean())
	assert.NotNil(t, empty.Items)
}

func TestRunPreservesOrderAcrossConcurrency(t *testing.T) {
	inputs := make([]int, 50)
	for i := range inputs {
		inputs[i] = i
	}
	fn := func(_ context.Context, n int) Item {
		// 逆序完成
		time.Sleep(time.Duration(50-n) * 100 * time.Microsecond)
		if n%7 == 0 {
			return Failure(fmt.Sprint(n), "", decimal.NewFromInt(int64(n)), "boom", nil)
		}
		return Success(fmt.Sprint(n), "", decimal.NewFromInt(int64(n)), "")
	}

	sequential := Summarize(Run(context.Background(), inputs, 1, fn))
	parallel := Summarize(Run(context.Background(), inputs, 8, fn))

	assert.Equal(t, sequential.Succeeded, parallel.Succeeded)
	assert.Equal(t, sequential.Failed, parallel.Failed)
	assert.True(t, sequential.Amount.Equal(parallel.Amount))
	for i := range inputs {
		assert.Equal(t, fmt.Sprint(i), parallel.Items[i].Key)
	}
}

func TestRunIsolatesPanics(t *testing.T) {
	items := Run(context.Background(), []string{"ok", "bad", "ok2"}, 2, func(_ context.Context, s string) Item {
		if s == "bad" {
			panic("ledger client exploded")
		}
		return Success(s, "", decimal.Zero, "")
	})

	r := Summarize(items)
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, "panic", items[1].Reason)
}
