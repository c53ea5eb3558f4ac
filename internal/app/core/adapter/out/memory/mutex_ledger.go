package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// lockedAccount 帳戶狀態加上自己的讀寫鎖
type lockedAccount struct {
	mu sync.RWMutex
	*accountState
}

// MutexLedger 是一個使用「每個帳戶一把鎖」實現的帳本
//
// 結構:
//
//	accounts: 帳戶 ID -> 帳戶狀態，建構後不再增減，讀取 map 本身不需要鎖
//	now: 時間來源
//
// 同一帳戶的交易取寫鎖，對帳單取讀鎖；不同帳戶互不阻塞
type MutexLedger struct {
	accounts map[int64]*lockedAccount
	now      func() time.Time
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	accounts: 初始帳戶資料 Map (會被複製)
//	opts: WAL 目錄、時間來源
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(accounts map[int64]*domain.Account, opts ...Option) (*MutexLedger, error) {
	o := newOptions(opts)
	states, err := newAccountStates(accounts, o)
	if err != nil {
		return nil, err
	}

	ledger := &MutexLedger{
		accounts: make(map[int64]*lockedAccount, len(states)),
		now:      o.now,
	}
	for id, st := range states {
		ledger.accounts[id] = &lockedAccount{accountState: st}
	}
	return ledger, nil
}

// Apply 處理交易請求 (帳戶寫鎖)
//
// 參數:
//
//	ctx: 上下文
//	tran: 交易物件
//
// 回傳:
//
//	domain.ApplyResult: 交易後額度與餘額
//	error: ErrAccountNotFound / ErrLimitExceeded / ErrWALWriteFailed
func (m *MutexLedger) Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error) {
	acc, ok := m.accounts[tran.AccountID]
	if !ok {
		return domain.ApplyResult{}, fmt.Errorf("account %d: %w", tran.AccountID, domain.ErrAccountNotFound)
	}
	if err := ctx.Err(); err != nil {
		return domain.ApplyResult{}, err
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.apply(tran, m.now())
}

// Statement 取得對帳單 (帳戶讀鎖)，不會讀到寫到一半的交易
func (m *MutexLedger) Statement(ctx context.Context, accountID int64) (domain.Statement, error) {
	acc, ok := m.accounts[accountID]
	if !ok {
		return domain.Statement{}, fmt.Errorf("account %d: %w", accountID, domain.ErrAccountNotFound)
	}

	acc.mu.RLock()
	defer acc.mu.RUnlock()
	return acc.statement(m.now()), nil
}

// LoadAllAccounts 回傳所有帳戶的快照 (複本)
func (m *MutexLedger) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(m.accounts))
	for id, acc := range m.accounts {
		acc.mu.RLock()
		snapshot := acc.account
		acc.mu.RUnlock()
		out[id] = &snapshot
	}
	return out, nil
}

// Close 關閉所有 WAL，必須在停止接收請求之後呼叫
func (m *MutexLedger) Close() error {
	states := make(map[int64]*accountState, len(m.accounts))
	for id, acc := range m.accounts {
		states[id] = acc.accountState
	}
	return closeStates(states)
}

var _ usecase.Ledger = (*MutexLedger)(nil)
