package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/pkg/mysql"
)

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newMockLedger(t *testing.T) (*MySQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	ledger := NewMySQLLedger(mysql.NewClientWithDB(db), zap.NewNop())
	ledger.now = func() time.Time { return fixedNow }
	return ledger, mock
}

func debit(value int64) *domain.Transaction {
	return &domain.Transaction{
		TransactionID: uuid.New(),
		AccountID:     1,
		Kind:          domain.TransactionKindDebit,
		Value:         value,
		Description:   "rent",
	}
}

func accountRows(limit, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_limit", "balance"}).AddRow(1, limit, balance)
}

var transactionColumns = []string{"id", "ref_id", "account_id", "value", "kind", "description", "balance_after", "performed_at"}

func TestApplyCommitsBalanceAndRecord(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts` WHERE id = \\?.*FOR UPDATE").
		WillReturnRows(accountRows(1000, 0))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id = \\?").
		WillReturnRows(sqlmock.NewRows(transactionColumns))
	mock.ExpectExec("UPDATE `accounts` SET `balance`=\\? WHERE id = \\?").
		WithArgs(int64(-1000), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	res, err := ledger.Apply(context.Background(), debit(1000))
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyResult{Limit: 1000, Balance: -1000}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRejectsOverLimitWithoutWriting(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR UPDATE").
		WillReturnRows(accountRows(1000, -1000))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id").
		WillReturnRows(sqlmock.NewRows(transactionColumns))
	mock.ExpectRollback()

	_, err := ledger.Apply(context.Background(), debit(1))
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUnknownAccount(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_limit", "balance"}))
	mock.ExpectRollback()

	_, err := ledger.Apply(context.Background(), debit(1))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyIsIdempotentOnRetry(t *testing.T) {
	ledger, mock := newMockLedger(t)
	tran := debit(300)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR UPDATE").
		WillReturnRows(accountRows(1000, -300))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id").
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(7, tran.TransactionID[:], 1, 300, 2, "rent", -300, fixedNow.UnixMicro()))
	mock.ExpectCommit()

	res, err := ledger.Apply(context.Background(), tran)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplyResult{Limit: 1000, Balance: -300}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDeadlockIsStorageFailure(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR UPDATE").
		WillReturnError(&mysqldriver.MySQLError{Number: errDeadlock, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	_, err := ledger.Apply(context.Background(), debit(1))
	require.Error(t, err)
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyInsertFailureRollsBack(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR UPDATE").
		WillReturnRows(accountRows(1000, 0))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE ref_id").
		WillReturnRows(sqlmock.NewRows(transactionColumns))
	mock.ExpectExec("UPDATE `accounts`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `transactions`").
		WillReturnError(&mysqldriver.MySQLError{Number: errLockWaitTimeout, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	_, err := ledger.Apply(context.Background(), debit(10))
	assert.Equal(t, domain.KindStorageFailure, domain.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementReadsNewestTen(t *testing.T) {
	ledger, mock := newMockLedger(t)
	older := fixedNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts` WHERE id = \\?.*FOR SHARE").
		WillReturnRows(accountRows(1000, -500))
	mock.ExpectQuery("SELECT \\* FROM `transactions` WHERE account_id = \\? ORDER BY performed_at DESC,id DESC LIMIT").
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(2, uuid.New().String()[:16], 1, 500, 1, "salary", -500, fixedNow.UnixMicro()).
			AddRow(1, uuid.New().String()[:16], 1, 1000, 2, "rent", -1000, older.UnixMicro()))
	mock.ExpectCommit()

	stmt, err := ledger.Statement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BalanceSnapshot{Total: -500, Limit: 1000, AsOf: fixedNow}, stmt.Balance)
	require.Len(t, stmt.LastTransactions, 2)
	assert.Equal(t, domain.TransactionKindCredit, stmt.LastTransactions[0].Kind)
	assert.Equal(t, int64(500), stmt.LastTransactions[0].Value)
	assert.Equal(t, fixedNow, stmt.LastTransactions[0].PerformedAt)
	assert.Equal(t, "rent", stmt.LastTransactions[1].Description)
	assert.Equal(t, older, stmt.LastTransactions[1].PerformedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementUnknownAccount(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `accounts`.*FOR SHARE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_limit", "balance"}))
	mock.ExpectRollback()

	_, err := ledger.Statement(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadAllAccounts(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT \\* FROM `accounts`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_limit", "balance"}).
			AddRow(1, 100000, 0).
			AddRow(2, 80000, -10))

	accounts, err := ledger.LoadAllAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]*domain.Account{
		1: domain.NewAccount(1, 100000, 0),
		2: domain.NewAccount(2, 80000, -10),
	}, accounts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
