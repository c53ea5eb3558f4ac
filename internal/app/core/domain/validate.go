package domain

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// TransactionRequest 尚未驗證的交易請求 (transport 解碼後的原始值)
type TransactionRequest struct {
	// Kind: 必須是 "credit" 或 "debit"
	Kind string
	// Value: 金額的原始數字字面值，空字串代表沒有提供
	Value string
	// Description: nil 代表沒有提供
	Description *string
}

// NewTransactionRequest 供內部呼叫端 (測試、壓測) 直接組裝請求
func NewTransactionRequest(kind string, value int64, description string) TransactionRequest {
	return TransactionRequest{
		Kind:        kind,
		Value:       strconv.FormatInt(value, 10),
		Description: &description,
	}
}

// ValidatedTransaction 通過格式檢查的交易
type ValidatedTransaction struct {
	Kind        TransactionKind
	Value       int64
	Description string
}

// ValidateTransaction 檢查交易格式，不碰帳本也不知道帳戶是否存在
//
// 依序檢查 kind、value、description，任一不符即回傳 ErrInvalidInput
func ValidateTransaction(req TransactionRequest) (ValidatedTransaction, error) {
	kind, ok := ParseTransactionKind(req.Kind)
	if !ok {
		return ValidatedTransaction{}, fmt.Errorf("%w: kind must be credit or debit", ErrInvalidInput)
	}

	if req.Value == "" {
		return ValidatedTransaction{}, fmt.Errorf("%w: value is required", ErrInvalidInput)
	}
	value, err := strconv.ParseInt(req.Value, 10, 64)
	if err != nil {
		return ValidatedTransaction{}, fmt.Errorf("%w: value must be an integer", ErrInvalidInput)
	}
	if value <= 0 {
		return ValidatedTransaction{}, fmt.Errorf("%w: value must be positive", ErrInvalidInput)
	}

	if req.Description == nil {
		return ValidatedTransaction{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(*req.Description); n < 1 || n > MaxDescriptionLength {
		return ValidatedTransaction{}, fmt.Errorf("%w: description length must be between 1 and %d", ErrInvalidInput, MaxDescriptionLength)
	}

	return ValidatedTransaction{
		Kind:        kind,
		Value:       value,
		Description: *req.Description,
	}, nil
}
