package usecase

import (
	"context"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
)

// Ledger 是帳務系統的儲存介面 (memory / mysql / postgres / redis 各自實作)
//
// 實作必須保證:
//   - 同一帳戶的 Apply 互斥 (讀餘額、檢查額度、寫餘額、追加紀錄為單一原子操作)
//   - 不同帳戶之間互不阻塞
//   - Statement 不會讀到只套用一半的交易
type Ledger interface {
	// Apply 套用一筆已驗證的交易，回傳交易後的額度與餘額
	// tran.TransactionID 在重試時不變，實作可據此避免重複入帳
	Apply(ctx context.Context, tran *domain.Transaction) (domain.ApplyResult, error)
	// Statement 取得餘額快照與最近 10 筆交易 (新到舊)
	Statement(ctx context.Context, accountID int64) (domain.Statement, error)
	// LoadAllAccounts 載入所有帳戶
	LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error)
}
