package domain

import "time"

// ApplyResult 交易成功後的帳戶狀態
type ApplyResult struct {
	Limit   int64
	Balance int64
}

// BalanceSnapshot 讀取當下的餘額
type BalanceSnapshot struct {
	Total int64
	Limit int64
	AsOf  time.Time
}

// Statement 對帳單: 餘額 + 最近 10 筆交易 (新到舊)
type Statement struct {
	Balance          BalanceSnapshot
	LastTransactions []Transaction
}

// RecentTransactions 固定容量的環狀緩衝，只保留最近 StatementSize 筆
// 非執行緒安全，由持有帳戶鎖的一方使用
type RecentTransactions struct {
	buf  [StatementSize]Transaction
	next int
	size int
}

// Push 追加一筆交易，超過容量時覆蓋最舊的一筆
func (r *RecentTransactions) Push(tran Transaction) {
	r.buf[r.next] = tran
	r.next = (r.next + 1) % StatementSize
	if r.size < StatementSize {
		r.size++
	}
}

// Len 目前保留的筆數
func (r *RecentTransactions) Len() int {
	return r.size
}

// Newest 回傳新到舊的複本
func (r *RecentTransactions) Newest() []Transaction {
	out := make([]Transaction, 0, r.size)
	for i := 1; i <= r.size; i++ {
		idx := (r.next - i + StatementSize) % StatementSize
		out = append(out, r.buf[idx])
	}
	return out
}
