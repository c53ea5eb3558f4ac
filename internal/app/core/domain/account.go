package domain

import (
	"fmt"
	"math"
)

// Account 帳戶。Limit 在開帳後不可變，Balance 永遠 >= -Limit
type Account struct {
	ID      int64
	Limit   int64
	Balance int64
}

func NewAccount(id int64, limit int64, balance int64) *Account {
	return &Account{
		ID:      id,
		Limit:   limit,
		Balance: balance,
	}
}

// NextBalance 計算套用交易後的餘額，不修改帳戶
//
// 參數:
//
//	kind: 交易類型
//	value: 金額 (必須為正數)
//
// 回傳:
//
//	int64: 交易後餘額
//	error: ErrLimitExceeded (超過透支額度) 或 ErrInvalidInput
func (a *Account) NextBalance(kind TransactionKind, value int64) (int64, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: value must be positive", ErrInvalidInput)
	}
	switch kind {
	case TransactionKindCredit:
		if a.Balance > math.MaxInt64-value {
			return 0, fmt.Errorf("%w: balance overflow", ErrInvalidInput)
		}
		return a.Balance + value, nil
	case TransactionKindDebit:
		if a.Balance < math.MinInt64+value {
			return 0, ErrLimitExceeded
		}
		next := a.Balance - value
		// 剛好等於 -Limit 是允許的
		if next < -a.Limit {
			return 0, ErrLimitExceeded
		}
		return next, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidInput, uint8(kind))
}
