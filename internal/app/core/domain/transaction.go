package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxDescriptionLength 交易描述最大長度 (字元數)
	MaxDescriptionLength = 10
	// StatementSize 對帳單只回傳最近的 10 筆交易
	StatementSize = 10
)

// TransactionKind 交易類型
type TransactionKind uint8

const (
	// 入帳
	TransactionKindCredit TransactionKind = 1
	// 扣帳
	TransactionKindDebit TransactionKind = 2
)

// ParseTransactionKind 只接受 "credit" 或 "debit"
func ParseTransactionKind(s string) (TransactionKind, bool) {
	switch s {
	case "credit":
		return TransactionKindCredit, true
	case "debit":
		return TransactionKindDebit, true
	}
	return 0, false
}

func (k TransactionKind) String() string {
	switch k {
	case TransactionKindCredit:
		return "credit"
	case TransactionKindDebit:
		return "debit"
	}
	return fmt.Sprintf("TransactionKind(%d)", uint8(k))
}

// MarshalText 讓 WAL / Redis 內的 JSON 保持可讀
func (k TransactionKind) MarshalText() ([]byte, error) {
	if k != TransactionKindCredit && k != TransactionKindDebit {
		return nil, fmt.Errorf("unknown transaction kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *TransactionKind) UnmarshalText(text []byte) error {
	kind, ok := ParseTransactionKind(string(text))
	if !ok {
		return fmt.Errorf("unknown transaction kind %q", text)
	}
	*k = kind
	return nil
}

// Transaction 已提交的交易紀錄，只能追加不能修改
type Transaction struct {
	// Sequence: 帳戶內的順序號 (1, 2, 3...)，時間相同時依此排序
	Sequence uint64 `json:"seq"`
	// AccountID: 所屬帳戶
	AccountID int64 `json:"account_id"`
	// Value: 金額 (永遠為正數)
	Value int64 `json:"value"`
	// BalanceAfter: 交易後餘額，重放 WAL 時用來校驗
	BalanceAfter int64 `json:"balance_after"`
	// PerformedAt: 交易時間 (由帳本在鎖內蓋章)
	PerformedAt time.Time `json:"performed_at"`
	// TransactionID: 追蹤號，重試時維持不變以避免重複入帳
	TransactionID uuid.UUID       `json:"ref_id"`
	Description   string          `json:"description"`
	Kind          TransactionKind `json:"kind"`
}
