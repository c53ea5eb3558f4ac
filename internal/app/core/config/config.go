// Package config 載入服務設定: YAML 檔 -> .env -> 環境變數覆寫 -> 預設值
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-limit-ledger/pkg/logger"
	"github.com/JoeShih716/go-limit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-limit-ledger/pkg/postgres"
	"github.com/JoeShih716/go-limit-ledger/pkg/redis"
)

// Engine 帳本儲存實作
type Engine string

const (
	EngineMemoryMutex Engine = "memory-mutex"
	EngineMemoryLMAX  Engine = "memory-lmax"
	EngineMySQL       Engine = "mysql"
	EnginePostgres    Engine = "postgres"
	EngineRedis       Engine = "redis"
)

type Config struct {
	HTTP     HTTPConfig      `yaml:"http"`
	GRPC     GRPCConfig      `yaml:"grpc"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Accounts []AccountConfig `yaml:"accounts"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
	Log      logger.Config   `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
}

type GRPCConfig struct {
	Addr       string `yaml:"addr" env:"GRPC_ADDR"`
	Reflection bool   `yaml:"reflection" env:"GRPC_REFLECTION"` // 方便 grpcurl 測試
}

type LedgerConfig struct {
	Engine Engine `yaml:"engine" env:"LEDGER_ENGINE"`
	// WALDir 記憶體帳本的 WAL 目錄，空字串不寫 WAL
	WALDir string              `yaml:"wal_dir" env:"LEDGER_WAL_DIR"`
	Retry  usecase.RetryConfig `yaml:"retry"`
}

// AccountConfig 開帳資料
type AccountConfig struct {
	ID      int64 `yaml:"id"`
	Limit   int64 `yaml:"limit"`
	Balance int64 `yaml:"balance"`
}

// Load 讀取設定檔並套用環境變數與預設值
//
// 參數:
//
//	path: YAML 設定檔路徑，檔案不存在時只用環境變數與預設值
//
// 回傳:
//
//	Config: 完整設定
//	error: 解析失敗或設定不合法
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// .env 不存在時直接使用系統環境變數
	_ = godotenv.Load()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAccounts 預設的五個帳戶，餘額皆為 0
func DefaultAccounts() []AccountConfig {
	return []AccountConfig{
		{ID: 1, Limit: 100000},
		{ID: 2, Limit: 80000},
		{ID: 3, Limit: 1000000},
		{ID: 4, Limit: 10000000},
		{ID: 5, Limit: 500000},
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 5 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 10 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Ledger.Engine == "" {
		c.Ledger.Engine = EngineMemoryMutex
	}

	retry := usecase.DefaultRetryConfig()
	if c.Ledger.Retry.MaxAttempts == 0 {
		c.Ledger.Retry.MaxAttempts = retry.MaxAttempts
	}
	if c.Ledger.Retry.InitialInterval == 0 {
		c.Ledger.Retry.InitialInterval = retry.InitialInterval
	}
	if c.Ledger.Retry.MaxInterval == 0 {
		c.Ledger.Retry.MaxInterval = retry.MaxInterval
	}

	if len(c.Accounts) == 0 {
		c.Accounts = DefaultAccounts()
	}

	// 補全 MySQL 預設配置 (如果 yaml 沒寫)
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}

	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

// Validate 檢查引擎名稱與開帳資料
func (c *Config) Validate() error {
	switch c.Ledger.Engine {
	case EngineMemoryMutex, EngineMemoryLMAX, EngineMySQL, EnginePostgres, EngineRedis:
	default:
		return fmt.Errorf("unknown ledger engine %q", c.Ledger.Engine)
	}

	seen := make(map[int64]struct{}, len(c.Accounts))
	for _, acc := range c.Accounts {
		if _, dup := seen[acc.ID]; dup {
			return fmt.Errorf("duplicate account id %d", acc.ID)
		}
		seen[acc.ID] = struct{}{}
		if acc.Limit < 0 {
			return fmt.Errorf("account %d: negative limit %d", acc.ID, acc.Limit)
		}
		if acc.Balance < -acc.Limit {
			return fmt.Errorf("account %d: balance %d below limit %d", acc.ID, acc.Balance, acc.Limit)
		}
	}
	return nil
}

// SeedAccounts 轉成 domain 帳戶
func (c *Config) SeedAccounts() []*domain.Account {
	accounts := make([]*domain.Account, 0, len(c.Accounts))
	for _, acc := range c.Accounts {
		accounts = append(accounts, domain.NewAccount(acc.ID, acc.Limit, acc.Balance))
	}
	return accounts
}
