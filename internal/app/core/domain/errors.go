package domain

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound 找不到帳戶 (不在開帳清單內)
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInput 交易格式錯誤
	ErrInvalidInput = errors.New("invalid input")

	// ErrLimitExceeded 超過透支額度
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrStorageFailure 儲存層暫時性錯誤，可重試
	ErrStorageFailure = errors.New("storage failure")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")

	// ErrLedgerClosed 帳本已關閉
	ErrLedgerClosed = errors.New("ledger closed")
)

// ErrorKind 錯誤分類，transport 依此決定回應狀態
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindInvalidInput
	KindLimitExceeded
	KindStorageFailure
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindStorageFailure:
		return "storage_failure"
	}
	return "internal"
}

// KindOf 將任意錯誤歸類
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAccountNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrLimitExceeded):
		return KindLimitExceeded
	case errors.Is(err, ErrStorageFailure), errors.Is(err, ErrWALWriteFailed):
		return KindStorageFailure
	}
	return KindInternal
}

// IsRetryable 只有儲存層暫時性錯誤可以重試，呼叫端取消或逾時不重試
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrWALWriteFailed)
}
