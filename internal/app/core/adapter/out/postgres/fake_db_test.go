package postgres

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeAccount struct {
	limit   int64
	balance int64
}

type fakeTransaction struct {
	id           int64
	ref          string
	accountID    int64
	value        int64
	kind         int16
	description  string
	balanceAfter int64
	performedAt  time.Time
}

// fakeDB 只認得帳本會送出的那幾條 SQL，寫入在 Commit 時才生效
type fakeDB struct {
	mu           sync.Mutex
	accounts     map[int64]fakeAccount
	transactions []fakeTransaction
	nextID       int64

	// 記錄每條送出的 SQL 與交易選項
	statements []string
	args       [][]any
	txOptions  []pgx.TxOptions
	commits    int
	rollbacks  int

	// failOn SQL 含此字串時回傳 failErr
	failOn    string
	failErr   error
	commitErr error
}

func newFakeDB(accounts map[int64]fakeAccount) *fakeDB {
	return &fakeDB{accounts: accounts}
}

func (db *fakeDB) record(sql string, args []any) error {
	db.statements = append(db.statements, sql)
	db.args = append(db.args, args)
	if db.failOn != "" && strings.Contains(sql, db.failOn) {
		return db.failErr
	}
	return nil
}

// executed 回傳含有 substr 的 SQL 數量
func (db *fakeDB) executed(substr string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, sql := range db.statements {
		if strings.Contains(sql, substr) {
			n++
		}
	}
	return n
}

func (db *fakeDB) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.txOptions = append(db.txOptions, opts)
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(sql, args); err != nil {
		return nil, err
	}
	if !strings.Contains(sql, "SELECT id, account_limit, balance FROM accounts") {
		return nil, errors.New("fake: unexpected query " + sql)
	}
	ids := make([]int64, 0, len(db.accounts))
	for id := range db.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := &fakeRows{}
	for _, id := range ids {
		acc := db.accounts[id]
		rows.data = append(rows.data, []any{id, acc.limit, acc.balance})
	}
	return rows, nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(sql, args); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("OK"), nil
}

// fakeTx 未覆寫的 pgx.Tx 方法被呼叫時會 panic
type fakeTx struct {
	pgx.Tx
	db      *fakeDB
	pending []func()
	closed  bool
}

func (tx *fakeTx) Commit(context.Context) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	if db.commitErr != nil {
		db.rollbacks++
		return db.commitErr
	}
	for _, op := range tx.pending {
		op()
	}
	db.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	db.rollbacks++
	return nil
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(sql, args); err != nil {
		return pgconn.CommandTag{}, err
	}
	switch {
	case strings.Contains(sql, "UPDATE accounts SET balance"):
		balance, id := args[0].(int64), args[1].(int64)
		tx.pending = append(tx.pending, func() {
			acc := db.accounts[id]
			acc.balance = balance
			db.accounts[id] = acc
		})
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case strings.Contains(sql, "INSERT INTO transactions"):
		rec := fakeTransaction{
			ref:          args[0].(string),
			accountID:    args[1].(int64),
			value:        args[2].(int64),
			kind:         args[3].(int16),
			description:  args[4].(string),
			balanceAfter: args[5].(int64),
			performedAt:  args[6].(time.Time),
		}
		tx.pending = append(tx.pending, func() {
			db.nextID++
			rec.id = db.nextID
			db.transactions = append(db.transactions, rec)
		})
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("fake: unexpected exec " + sql)
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(sql, args); err != nil {
		return &fakeRow{err: err}
	}
	switch {
	case strings.Contains(sql, "FROM accounts WHERE id = $1"):
		acc, ok := db.accounts[args[0].(int64)]
		if !ok {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		return &fakeRow{vals: []any{acc.limit, acc.balance}}
	case strings.Contains(sql, "FROM transactions WHERE ref_id = $1"):
		for _, rec := range db.transactions {
			if rec.ref == args[0].(string) {
				return &fakeRow{vals: []any{rec.balanceAfter}}
			}
		}
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{err: errors.New("fake: unexpected query row " + sql)}
}

// Query 依 performed_at DESC, id DESC 排序後取前 $2 筆
func (tx *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db := tx.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(sql, args); err != nil {
		return nil, err
	}
	if !strings.Contains(sql, "FROM transactions") {
		return nil, errors.New("fake: unexpected query " + sql)
	}
	accountID, limit := args[0].(int64), args[1].(int)
	var matched []fakeTransaction
	for _, rec := range db.transactions {
		if rec.accountID == accountID {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].performedAt.Equal(matched[j].performedAt) {
			return matched[i].performedAt.After(matched[j].performedAt)
		}
		return matched[i].id > matched[j].id
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	rows := &fakeRows{}
	for _, rec := range matched {
		rows.data = append(rows.data, []any{
			rec.id, rec.ref, rec.value, rec.kind, rec.description, rec.balanceAfter, rec.performedAt,
		})
	}
	return rows, nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

// fakeRows 未覆寫的 pgx.Rows 方法被呼叫時會 panic
type fakeRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.data[r.pos-1]) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag("SELECT")
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return errors.New("fake: scan column count mismatch")
	}
	for i, v := range vals {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}
