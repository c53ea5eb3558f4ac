package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/pkg/metrics"
)

// RetryConfig 儲存層暫時性錯誤的重試設定
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" env:"LEDGER_RETRY_MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"LEDGER_RETRY_INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"LEDGER_RETRY_MAX_INTERVAL"`
}

// DefaultRetryConfig 預設最多嘗試 5 次
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// Option 定義了 CoreUseCase 的配置選項函數
type Option func(*CoreUseCase)

// WithLogger 設定 logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *CoreUseCase) {
		c.logger = logger
	}
}

// WithRetry 設定重試策略
func WithRetry(cfg RetryConfig) Option {
	return func(c *CoreUseCase) {
		c.retry = cfg
	}
}

// CoreUseCase 是核心業務邏輯層
type CoreUseCase struct {
	ledger Ledger
	// 開帳清單，啟動後不再變動，不需要鎖
	accounts map[int64]struct{}
	retry    RetryConfig
	logger   *zap.Logger
}

// NewCoreUseCase 建立核心業務邏輯層，並從 Ledger 載入帳戶清單
//
// 參數:
//
//	ctx: 上下文
//	ledger: 儲存實作
//	opts: 可選設定
//
// 回傳:
//
//	*CoreUseCase: 核心業務邏輯
//	error: 載入帳戶失敗
func NewCoreUseCase(ctx context.Context, ledger Ledger, opts ...Option) (*CoreUseCase, error) {
	c := &CoreUseCase{
		ledger: ledger,
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}

	accounts, err := ledger.LoadAllAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	c.accounts = make(map[int64]struct{}, len(accounts))
	for id := range accounts {
		c.accounts[id] = struct{}{}
	}
	return c, nil
}

// HasAccount 帳戶是否在開帳清單內
func (c *CoreUseCase) HasAccount(accountID int64) bool {
	_, ok := c.accounts[accountID]
	return ok
}

// ApplyTransaction 處理交易: 檢查帳戶 -> 驗證 -> 原子套用 (暫時性錯誤會重試)
func (c *CoreUseCase) ApplyTransaction(ctx context.Context, accountID int64, req domain.TransactionRequest) (domain.ApplyResult, error) {
	if !c.HasAccount(accountID) {
		metrics.RecordApply("unknown", domain.KindNotFound.String())
		return domain.ApplyResult{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}

	valid, err := domain.ValidateTransaction(req)
	if err != nil {
		metrics.RecordApply("unknown", domain.KindInvalidInput.String())
		return domain.ApplyResult{}, err
	}

	tran := &domain.Transaction{
		TransactionID: uuid.New(),
		AccountID:     accountID,
		Value:         valid.Value,
		Kind:          valid.Kind,
		Description:   valid.Description,
	}

	var result domain.ApplyResult
	err = c.withRetry(ctx, "apply", func() error {
		var applyErr error
		result, applyErr = c.ledger.Apply(ctx, tran)
		return applyErr
	})
	kind := domain.KindOf(err)
	metrics.RecordApply(valid.Kind.String(), kind.String())
	if err != nil {
		if kind == domain.KindInternal {
			c.logger.Error("apply transaction failed",
				zap.Int64("account_id", accountID),
				zap.Stringer("ref_id", tran.TransactionID),
				zap.Error(err))
		}
		return domain.ApplyResult{}, err
	}
	return result, nil
}

// GetStatement 取得對帳單
func (c *CoreUseCase) GetStatement(ctx context.Context, accountID int64) (domain.Statement, error) {
	if !c.HasAccount(accountID) {
		metrics.RecordStatement(domain.KindNotFound.String())
		return domain.Statement{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}

	var stmt domain.Statement
	err := c.withRetry(ctx, "statement", func() error {
		var readErr error
		stmt, readErr = c.ledger.Statement(ctx, accountID)
		return readErr
	})
	kind := domain.KindOf(err)
	metrics.RecordStatement(kind.String())
	if err != nil {
		if kind == domain.KindInternal {
			c.logger.Error("get statement failed", zap.Int64("account_id", accountID), zap.Error(err))
		}
		return domain.Statement{}, err
	}
	if stmt.LastTransactions == nil {
		stmt.LastTransactions = []domain.Transaction{}
	}
	return stmt, nil
}

// withRetry 只重試儲存層暫時性錯誤，次數有上限，並尊重呼叫端的 ctx
func (c *CoreUseCase) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialInterval
	policy.MaxInterval = c.retry.MaxInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := fn()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordStorageRetry()
		c.logger.Warn("storage failure, retrying",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	retries := uint64(c.retry.MaxAttempts - 1)
	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil && domain.KindOf(err) == domain.KindInternal &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return fmt.Errorf("%w: %w", domain.ErrStorageFailure, err)
	}
	return err
}
