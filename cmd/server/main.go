package main

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/event"
	"github.com/blues/fundledger/internal/ledger"
	"github.com/blues/fundledger/internal/ledger/xrpl"
	"github.com/blues/fundledger/internal/lock"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/repository"
	"github.com/blues/fundledger/internal/router"
	"github.com/blues/fundledger/internal/task"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Log)
	defer logger.Sync()

	// 初始化存储
	store, err := repository.Open(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize store: %v", err)
	}

	// 初始化账本网关
	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger gateway: %v", err)
	}

	// 初始化分布式锁
	locker, err := lock.New(cfg.Lock)
	if err != nil {
		logger.Fatal("Failed to initialize locker: %v", err)
	}

	// 初始化事件总线
	bus, err := event.NewBus(cfg.Dispatch.EventWorkers)
	if err != nil {
		logger.Fatal("Failed to initialize event bus: %v", err)
	}
	defer bus.Close()

	if cfg.Kafka.Enabled {
		publisher, err := event.NewKafkaPublisher(cfg.Kafka.Brokers)
		if err != nil {
			logger.Fatal("Failed to initialize kafka publisher: %v", err)
		}
		defer publisher.Close()
		event.RegisterForwarder(bus, event.NewForwarder(publisher, cfg.Kafka.Topic))
		logger.Info("Forwarding domain events to kafka topic %s", cfg.Kafka.Topic)
	}

	// 初始化业务逻辑
	opts, err := logic.OptionsFromConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	services := logic.NewServices(store, gateway, locker, bus, opts)
	services.RegisterProcessors(bus)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(services)

	// 启动定时任务
	manager, err := task.NewManager(services, cfg.Task)
	if err != nil {
		logger.Fatal("Failed to create task manager: %v", err)
	}
	manager.Start()
	defer manager.Stop()

	// 启动服务器
	logger.Info("Server starting on port %s (ledger: %s)", cfg.Server.Port, cfg.Ledger.Type)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// newGateway 按 ledger.type 构造账本网关，未配置平台地址时由密钥推导
func newGateway(cfg *config.Config) (ledger.Gateway, error) {
	switch cfg.Ledger.Type {
	case "evm":
		g, err := chain.Dial(cfg.Ledger)
		if err != nil {
			return nil, err
		}
		if cfg.Ledger.PlatformAddress == "" && cfg.Ledger.PlatformSecret != "" {
			if cfg.Ledger.PlatformAddress, err = g.AddressOf(cfg.Ledger.PlatformSecret); err != nil {
				return nil, err
			}
		}
		return g, nil

	case "xrpl", "":
		timeout := time.Duration(cfg.Ledger.SubmitTimeout) * time.Second
		g := xrpl.NewGateway(xrpl.NewClient(cfg.Ledger.RpcUrl, timeout), xrpl.Options{
			NativeAsset:   cfg.Ledger.NativeAsset,
			SubmitTimeout: timeout,
			PollInterval:  time.Duration(cfg.Ledger.PollInterval) * time.Millisecond,
		})
		if cfg.Ledger.PlatformAddress == "" && cfg.Ledger.PlatformSecret != "" {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			address, err := g.AddressOf(ctx, cfg.Ledger.PlatformSecret)
			if err != nil {
				return nil, err
			}
			cfg.Ledger.PlatformAddress = address
		}
		return g, nil

	default:
		return nil, fmt.Errorf("unsupported ledger type %q", cfg.Ledger.Type)
	}
}
