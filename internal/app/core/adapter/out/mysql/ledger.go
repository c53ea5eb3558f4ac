package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-limit-ledger/pkg/mysql"
)

// MySQL 暫時性錯誤碼
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID      int64 `gorm:"primaryKey;autoIncrement:false"`
	Limit   int64 `gorm:"column:account_limit"`
	Balance int64
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表
type sqlTransaction struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	RefID        []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex"` // 對應 domain.TransactionID
	AccountID    int64  `gorm:"index:idx_account_performed,priority:1"`
	Value        int64
	Kind         uint8
	Description  string `gorm:"size:40"`
	BalanceAfter int64
	PerformedAt  int64 `gorm:"index:idx_account_performed,priority:2"` // UnixMicro
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

func (t *sqlTransaction) toDomain() domain.Transaction {
	var ref uuid.UUID
	copy(ref[:], t.RefID)
	return domain.Transaction{
		Sequence:      uint64(t.ID),
		AccountID:     t.AccountID,
		Value:         t.Value,
		BalanceAfter:  t.BalanceAfter,
		PerformedAt:   time.UnixMicro(t.PerformedAt).UTC(),
		TransactionID: ref,
		Description:   t.Description,
		Kind:          domain.TransactionKind(t.Kind),
	}
}

type MySQLLedger struct {
	client *mysql.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewMySQLLedger(client *mysql.Client, logger *zap.Logger) *MySQLLedger {
	return &MySQLLedger{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Migrate 建表並寫入開帳資料，已存在的帳戶不會被覆蓋
func (ledger *MySQLLedger) Migrate(ctx context.Context, seed []*domain.Account) error {
	db := ledger.client.DB().WithContext(ctx)
	if err := db.AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if len(seed) == 0 {
		return nil
	}
	rows := make([]sqlAccount, 0, len(seed))
	for _, acc := range seed {
		rows = append(rows, sqlAccount{ID: acc.ID, Limit: acc.Limit, Balance: acc.Balance})
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	return nil
}

// Apply 在單一資料庫交易內: 鎖帳戶列 -> 冪等檢查 -> 檢查額度 -> 更新餘額 -> 寫交易紀錄
//
// 參數:
//
//	ctx: 上下文 (逾時會中止等待列鎖)
//	tran: 交易物件
//
// 回傳:
//
//	domain.ApplyResult: 交易後額度與餘額
//	error: ErrAccountNotFound / ErrLimitExceeded / ErrStorageFailure
func (ledger *MySQLLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error) {
	var result domain.ApplyResult
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 取得帳戶列鎖 悲觀鎖，同一帳戶的交易在此排隊
		var acc sqlAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tran.AccountID).
			Take(&acc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %d: %w", tran.AccountID, domain.ErrAccountNotFound)
		}
		if err != nil {
			return err
		}

		// 重試時可能已經提交過 (COMMIT 成功但回應遺失)
		var existing []sqlTransaction
		if err := tx.Where("ref_id = ?", tran.TransactionID[:]).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			result = domain.ApplyResult{Limit: acc.Limit, Balance: existing[0].BalanceAfter}
			return nil
		}

		account := domain.NewAccount(acc.ID, acc.Limit, acc.Balance)
		next, err := account.NextBalance(tran.Kind, tran.Value)
		if err != nil {
			return err
		}

		if err := tx.Model(&sqlAccount{}).Where("id = ?", acc.ID).Update("balance", next).Error; err != nil {
			return err
		}
		record := sqlTransaction{
			RefID:        tran.TransactionID[:],
			AccountID:    acc.ID,
			Value:        tran.Value,
			Kind:         uint8(tran.Kind),
			Description:  tran.Description,
			BalanceAfter: next,
			PerformedAt:  ledger.now().UnixMicro(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		result = domain.ApplyResult{Limit: acc.Limit, Balance: next}
		return nil
	})
	if err != nil {
		return domain.ApplyResult{}, ledger.classify("apply", err)
	}
	return result, nil
}

// Statement 在同一個交易內以共享鎖讀帳戶，再讀最近 10 筆
// 共享鎖會等正在提交的交易完成，不會讀到一半的狀態
func (ledger *MySQLLedger) Statement(ctx context.Context, accountID int64) (domain.Statement, error) {
	var stmt domain.Statement
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc sqlAccount
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", accountID).
			Take(&acc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
		}
		if err != nil {
			return err
		}

		var rows []sqlTransaction
		if err := tx.Where("account_id = ?", accountID).
			Order("performed_at DESC").
			Order("id DESC").
			Limit(domain.StatementSize).
			Find(&rows).Error; err != nil {
			return err
		}

		stmt.Balance = domain.BalanceSnapshot{
			Total: acc.Balance,
			Limit: acc.Limit,
			AsOf:  ledger.now().UTC(),
		}
		stmt.LastTransactions = make([]domain.Transaction, 0, len(rows))
		for i := range rows {
			stmt.LastTransactions = append(stmt.LastTransactions, rows[i].toDomain())
		}
		return nil
	})
	if err != nil {
		return domain.Statement{}, ledger.classify("statement", err)
	}
	return stmt, nil
}

// LoadAllAccounts 載入所有帳戶
func (ledger *MySQLLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	var rows []sqlAccount
	if err := ledger.client.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, ledger.classify("load accounts", err)
	}
	accounts := make(map[int64]*domain.Account, len(rows))
	for _, row := range rows {
		accounts[row.ID] = domain.NewAccount(row.ID, row.Limit, row.Balance)
	}
	return accounts, nil
}

// classify 將 driver 錯誤轉成 domain 錯誤，業務錯誤原樣回傳
func (ledger *MySQLLedger) classify(op string, err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	if isTransient(err) {
		ledger.logger.Warn("mysql transient failure", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
	}
	ledger.logger.Error("mysql failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqldriver.ErrInvalidConn)
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
