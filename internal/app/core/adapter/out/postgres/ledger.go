package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// Postgres 暫時性錯誤碼
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeTooManyConnections   = "53300"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            BIGINT PRIMARY KEY,
	account_limit BIGINT NOT NULL CHECK (account_limit >= 0),
	balance       BIGINT NOT NULL,
	CHECK (balance >= -account_limit)
);

CREATE TABLE IF NOT EXISTS transactions (
	id            BIGSERIAL PRIMARY KEY,
	ref_id        UUID NOT NULL UNIQUE,
	account_id    BIGINT NOT NULL REFERENCES accounts (id),
	value         BIGINT NOT NULL CHECK (value > 0),
	kind          SMALLINT NOT NULL,
	description   VARCHAR(10) NOT NULL,
	balance_after BIGINT NOT NULL,
	performed_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account_performed
	ON transactions (account_id, performed_at DESC, id DESC);
`

// DB pgxpool.Pool 需要的方法
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresLedger struct {
	db     DB
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresLedger(db DB, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Migrate 建表並寫入開帳資料，已存在的帳戶不會被覆蓋
func (ledger *PostgresLedger) Migrate(ctx context.Context, seed []*domain.Account) error {
	if _, err := ledger.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, acc := range seed {
		if _, err := ledger.db.Exec(ctx,
			`INSERT INTO accounts (id, account_limit, balance) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			acc.ID, acc.Limit, acc.Balance,
		); err != nil {
			return fmt.Errorf("seed account %d: %w", acc.ID, err)
		}
	}
	return nil
}

// Apply 鎖帳戶列後檢查額度，更新餘額與追加紀錄在同一個交易內提交
func (ledger *PostgresLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error) {
	var result domain.ApplyResult
	err := pgx.BeginTxFunc(ctx, ledger.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var limit, balance int64
		err := tx.QueryRow(ctx,
			`SELECT account_limit, balance FROM accounts WHERE id = $1 FOR UPDATE`,
			tran.AccountID,
		).Scan(&limit, &balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %d: %w", tran.AccountID, domain.ErrAccountNotFound)
		}
		if err != nil {
			return err
		}

		// 重試時可能已經提交過
		var recorded int64
		err = tx.QueryRow(ctx,
			`SELECT balance_after FROM transactions WHERE ref_id = $1`,
			tran.TransactionID.String(),
		).Scan(&recorded)
		if err == nil {
			result = domain.ApplyResult{Limit: limit, Balance: recorded}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		next, err := domain.NewAccount(tran.AccountID, limit, balance).NextBalance(tran.Kind, tran.Value)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, next, tran.AccountID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (ref_id, account_id, value, kind, description, balance_after, performed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tran.TransactionID.String(), tran.AccountID, tran.Value, int16(tran.Kind), tran.Description, next, ledger.now().UTC(),
		); err != nil {
			return err
		}
		result = domain.ApplyResult{Limit: limit, Balance: next}
		return nil
	})
	if err != nil {
		return domain.ApplyResult{}, ledger.classify("apply", err)
	}
	return result, nil
}

// Statement 在 REPEATABLE READ 唯讀交易內讀取，兩次查詢看到同一個快照
func (ledger *PostgresLedger) Statement(ctx context.Context, accountID int64) (domain.Statement, error) {
	var stmt domain.Statement
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, ledger.db, opts, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT account_limit, balance FROM accounts WHERE id = $1`,
			accountID,
		).Scan(&stmt.Balance.Limit, &stmt.Balance.Total)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
		}
		if err != nil {
			return err
		}
		stmt.Balance.AsOf = ledger.now().UTC()

		rows, err := tx.Query(ctx,
			`SELECT id, ref_id::text, value, kind, description, balance_after, performed_at
			   FROM transactions
			  WHERE account_id = $1
			  ORDER BY performed_at DESC, id DESC
			  LIMIT $2`,
			accountID, domain.StatementSize,
		)
		if err != nil {
			return err
		}
		stmt.LastTransactions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transaction, error) {
			var (
				t    domain.Transaction
				id   int64
				ref  string
				kind int16
			)
			if err := row.Scan(&id, &ref, &t.Value, &kind, &t.Description, &t.BalanceAfter, &t.PerformedAt); err != nil {
				return t, err
			}
			parsed, err := uuid.Parse(ref)
			if err != nil {
				return t, err
			}
			t.Sequence = uint64(id)
			t.AccountID = accountID
			t.TransactionID = parsed
			t.Kind = domain.TransactionKind(kind)
			t.PerformedAt = t.PerformedAt.UTC()
			return t, nil
		})
		return err
	})
	if err != nil {
		return domain.Statement{}, ledger.classify("statement", err)
	}
	return stmt, nil
}

// LoadAllAccounts 載入所有帳戶
func (ledger *PostgresLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	rows, err := ledger.db.Query(ctx, `SELECT id, account_limit, balance FROM accounts`)
	if err != nil {
		return nil, ledger.classify("load accounts", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Account, error) {
		var acc domain.Account
		err := row.Scan(&acc.ID, &acc.Limit, &acc.Balance)
		return &acc, err
	})
	if err != nil {
		return nil, ledger.classify("load accounts", err)
	}
	accounts := make(map[int64]*domain.Account, len(list))
	for _, acc := range list {
		accounts[acc.ID] = acc
	}
	return accounts, nil
}

func (ledger *PostgresLedger) classify(op string, err error) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}
	if isTransient(err) {
		ledger.logger.Warn("postgres transient failure", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", domain.ErrStorageFailure, op, err)
	}
	ledger.logger.Error("postgres failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

// isTransient 鎖衝突、序列化失敗、連線問題可重試
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeTooManyConnections:
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

var _ usecase.Ledger = (*PostgresLedger)(nil)
