package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/fundledger/internal/logger"
	"github.com/panjf2000/ants/v2"
)

// Processor 事件处理器
type Processor interface {
	Process(ctx context.Context, e Event) error
}

// ProcessorFunc 函数适配器
type ProcessorFunc func(ctx context.Context, e Event) error

func (f ProcessorFunc) Process(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Bus 进程内事件总线，按类型分发到已注册处理器，处理在 ants 池中异步执行
type Bus struct {
	mu         sync.RWMutex
	processors map[Type][]Processor
	pool       *ants.Pool
	wg         sync.WaitGroup
}

// NewBus 创建事件总线
func NewBus(workers int) (*Bus, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create event pool: %w", err)
	}
	return &Bus{processors: make(map[Type][]Processor), pool: pool}, nil
}

// Register 注册处理器
func (b *Bus) Register(t Type, p Processor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processors[t] = append(b.processors[t], p)
	logger.Info("Registered processor for event type: %s", t)
}

// Publish 投递事件，不等待处理完成
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	processors := append([]Processor(nil), b.processors[e.Type]...)
	b.mu.RUnlock()

	if len(processors) == 0 {
		logger.Debug("No processor for event type: %s", e.Type)
		return nil
	}

	// 处理不随请求取消
	bg := context.WithoutCancel(ctx)
	for _, p := range processors {
		p := p
		b.wg.Add(1)
		if err := b.pool.Submit(func() {
			defer b.wg.Done()
			b.process(bg, p, e)
		}); err != nil {
			b.wg.Done()
			return fmt.Errorf("submit %s event: %w", e.Type, err)
		}
	}
	return nil
}

func (b *Bus) process(ctx context.Context, p Processor, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event processor panicked on %s %s: %v", e.Type, e.ID, r)
		}
	}()
	if err := p.Process(ctx, e); err != nil {
		logger.Error("Failed to process %s event %s for campaign %s: %v", e.Type, e.ID, e.CampaignID, err)
	}
}

// Wait 等待已投递事件处理完毕
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close 等待处理完毕后释放工作池
func (b *Bus) Close() {
	b.wg.Wait()
	b.pool.Release()
}
