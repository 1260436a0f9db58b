package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/blues/fundledger/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Investment InvestmentConfig `mapstructure:"investment"`
	Lock       LockConfig       `mapstructure:"lock"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Task       TaskConfig       `mapstructure:"task"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LedgerConfig 账本网关配置
type LedgerConfig struct {
	Type            string `mapstructure:"type"`             // xrpl, evm
	RpcUrl          string `mapstructure:"rpc_url"`          // 节点RPC地址
	PlatformAddress string `mapstructure:"platform_address"` // 平台收款/发放地址
	PlatformSecret  string `mapstructure:"platform_secret"`  // 平台签名密钥
	NativeAsset     string `mapstructure:"native_asset"`     // 原生资产代码 (XRP, ETH)
	SubmitTimeout   int    `mapstructure:"submit_timeout"`   // 秒，等待交易最终确认
	PollInterval    int    `mapstructure:"poll_interval"`    // 毫秒

	// EVM 专用
	ChainId        int64  `mapstructure:"chain_id"`
	EscrowContract string `mapstructure:"escrow_contract"`
	Decimals       int32  `mapstructure:"decimals"`
}

// DispatchConfig 批量分发配置
type DispatchConfig struct {
	Concurrency        int `mapstructure:"concurrency"`          // 1 表示顺序执行
	EventWorkers       int `mapstructure:"event_workers"`        // 事件总线工作协程数
	RecordRetries      int `mapstructure:"record_retries"`       // 账本成功后落库的尝试次数
	RecordRetryBackoff int `mapstructure:"record_retry_backoff"` // 毫秒，按次数递增
}

// InvestmentConfig 投资校验配置
type InvestmentConfig struct {
	MinAmount         string `mapstructure:"min_amount"`
	AmountTolerance   string `mapstructure:"amount_tolerance"`
	EscrowFinishAfter int    `mapstructure:"escrow_finish_after"` // 秒
}

type LockConfig struct {
	Driver   string `mapstructure:"driver"` // memory, redis
	RedisUrl string `mapstructure:"redis_url"`
	TTL      int    `mapstructure:"ttl"` // 秒
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TaskConfig struct {
	Interval    int `mapstructure:"interval"`     // 秒
	ReplayAfter int `mapstructure:"replay_after"` // 秒，未处理事件重放阈值
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// Load 从默认路径加载配置
func Load() *Config {
	cfg, err := LoadFrom(".", "./config", "/etc/fundledger")
	if err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}
	return cfg
}

// LoadFrom 从指定目录加载 config.yaml，环境变量优先
func LoadFrom(paths ...string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Could not load .env file: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	// 自动读取环境变量，ledger.platform_secret -> LEDGER_PLATFORM_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "fundledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("ledger.type", "xrpl")
	v.SetDefault("ledger.rpc_url", "https://s.altnet.rippletest.net:51234")
	v.SetDefault("ledger.platform_address", "")
	v.SetDefault("ledger.platform_secret", "")
	v.SetDefault("ledger.native_asset", "XRP")
	v.SetDefault("ledger.submit_timeout", 30)
	v.SetDefault("ledger.poll_interval", 1000)
	v.SetDefault("ledger.chain_id", 1)
	v.SetDefault("ledger.decimals", 18)
	v.SetDefault("dispatch.concurrency", 1)
	v.SetDefault("dispatch.event_workers", 4)
	v.SetDefault("dispatch.record_retries", 3)
	v.SetDefault("dispatch.record_retry_backoff", 200)
	v.SetDefault("investment.min_amount", "1")
	v.SetDefault("investment.amount_tolerance", "0.01")
	v.SetDefault("investment.escrow_finish_after", 60)
	v.SetDefault("lock.driver", "memory")
	v.SetDefault("lock.redis_url", "redis://localhost:6379/0")
	v.SetDefault("lock.ttl", 120)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "fundledger.events")
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.replay_after", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}
