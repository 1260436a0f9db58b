// Package lock 按键互斥（活动、资产），单进程用内存实现，多实例用 Redis
package lock

import (
	"context"
	"fmt"

	"github.com/blues/fundledger/internal/config"
)

// Locker 按键互斥
type Locker interface {
	// Lock 阻塞直到获得锁或 ctx 结束，返回的函数释放锁
	Lock(ctx context.Context, key string) (func(), error)
}

// New 按 lock.driver 构造 Locker
func New(cfg config.LockConfig) (Locker, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLocker(cfg)
	default:
		return nil, fmt.Errorf("unsupported lock driver %q", cfg.Driver)
	}
}
