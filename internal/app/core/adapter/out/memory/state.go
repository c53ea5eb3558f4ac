package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/pkg/wal"
)

// Option 定義了記憶體帳本的配置選項函數
type Option func(*options)

type options struct {
	walDir string
	now    func() time.Time
}

// WithWALDir 設定 WAL 目錄，每個帳戶一個檔案；空字串代表不寫 WAL
func WithWALDir(dir string) Option {
	return func(o *options) {
		o.walDir = dir
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// accountState 單一帳戶的餘額與最近交易
// 非執行緒安全，由各帳本實作負責序列化存取
type accountState struct {
	account  domain.Account
	recent   domain.RecentTransactions
	sequence uint64
	lastAt   time.Time
	// 每個帳戶獨立的 WAL，不同帳戶寫入不互相等待
	wal *wal.WAL
}

// newAccountStates 建立帳戶狀態並從 WAL 恢復
// 會複製傳入的帳戶，帳本不持有呼叫端的指標
func newAccountStates(accounts map[int64]*domain.Account, o options) (map[int64]*accountState, error) {
	if o.walDir != "" {
		if err := os.MkdirAll(o.walDir, wal.FileModeExecutable); err != nil {
			return nil, fmt.Errorf("create wal dir: %w", err)
		}
	}

	states := make(map[int64]*accountState, len(accounts))
	for id, acc := range accounts {
		st := &accountState{account: *acc}
		states[id] = st
		if o.walDir == "" {
			continue
		}

		w, err := wal.NewWAL(filepath.Join(o.walDir, fmt.Sprintf("account-%d.wal", id)))
		if err != nil {
			closeStates(states)
			return nil, fmt.Errorf("open wal for account %d: %w", id, err)
		}
		st.wal = w
		if err := st.recoverFromWAL(); err != nil {
			closeStates(states)
			return nil, fmt.Errorf("recover account %d: %w", id, err)
		}
	}
	return states, nil
}

func closeStates(states map[int64]*accountState) error {
	var firstErr error
	for _, st := range states {
		if st.wal == nil {
			continue
		}
		if err := st.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只在建構時呼叫，無需 Lock (單執行緒)
func (s *accountState) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var tran domain.Transaction
		if err := json.Unmarshal(jsonRaw, &tran); err != nil {
			return err
		}
		if tran.AccountID != s.account.ID {
			return fmt.Errorf("wal record seq %d belongs to account %d", tran.Sequence, tran.AccountID)
		}
		next, err := s.account.NextBalance(tran.Kind, tran.Value)
		if err != nil {
			return fmt.Errorf("replay seq %d: %w", tran.Sequence, err)
		}
		if next != tran.BalanceAfter {
			return fmt.Errorf("replay seq %d: balance %d does not match recorded %d", tran.Sequence, next, tran.BalanceAfter)
		}
		s.commit(tran)
		return nil
	})
}

// apply 檢查額度、寫 WAL、更新記憶體
// WAL 寫入失敗時記憶體完全不變
func (s *accountState) apply(tran *domain.Transaction, now time.Time) (domain.ApplyResult, error) {
	next, err := s.account.NextBalance(tran.Kind, tran.Value)
	if err != nil {
		return domain.ApplyResult{}, err
	}

	rec := *tran
	rec.AccountID = s.account.ID
	rec.Sequence = s.sequence + 1
	rec.PerformedAt = s.stamp(now)
	rec.BalanceAfter = next

	// 1. 寫入 WAL (Critical Path)
	if s.wal != nil {
		if err := s.wal.Write(&rec); err != nil {
			return domain.ApplyResult{}, fmt.Errorf("%w: %w", domain.ErrWALWriteFailed, err)
		}
	}

	// 2. 更新記憶體
	s.commit(rec)
	return domain.ApplyResult{Limit: s.account.Limit, Balance: next}, nil
}

func (s *accountState) commit(rec domain.Transaction) {
	s.account.Balance = rec.BalanceAfter
	s.sequence = rec.Sequence
	s.lastAt = rec.PerformedAt
	s.recent.Push(rec)
}

// stamp 時間不倒退，確保依時間排序與提交順序一致
func (s *accountState) stamp(now time.Time) time.Time {
	if now.Before(s.lastAt) {
		return s.lastAt
	}
	return now
}

func (s *accountState) statement(now time.Time) domain.Statement {
	return domain.Statement{
		Balance: domain.BalanceSnapshot{
			Total: s.account.Balance,
			Limit: s.account.Limit,
			AsOf:  now,
		},
		LastTransactions: s.recent.Newest(),
	}
}
