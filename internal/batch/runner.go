package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/fundledger/internal/logger"
	"github.com/panjf2000/ants/v2"
)

// Run 对每项执行 fn，结果按输入顺序返回
// concurrency <= 1 时顺序执行；否则在临时 ants 池中并发，结果只写入各自下标
func Run[T any](ctx context.Context, items []T, concurrency int, fn func(ctx context.Context, item T) Item) []Item {
	results := make([]Item, len(items))
	if len(items) == 0 {
		return results
	}

	if concurrency <= 1 || len(items) == 1 {
		for i, it := range items {
			results[i] = invoke(ctx, it, fn)
		}
		return results
	}

	if concurrency > len(items) {
		concurrency = len(items)
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		logger.Warn("Failed to create batch pool, running sequentially: %v", err)
		for i, it := range items {
			results[i] = invoke(ctx, it, fn)
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, it := range items {
		i, it := i, it
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = invoke(ctx, it, fn)
		}); err != nil {
			wg.Done()
			results[i] = Item{Outcome: Failed, Reason: "dispatch_failed", Message: err.Error()}
		}
	}
	wg.Wait()
	return results
}

// invoke 单项 panic 转为失败项，不影响其余项
func invoke[T any](ctx context.Context, item T, fn func(ctx context.Context, item T) Item) (out Item) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Batch item panicked: %v", r)
			out = Item{Outcome: Failed, Reason: "panic", Message: fmt.Sprint(r)}
		}
	}()
	return fn(ctx, item)
}
