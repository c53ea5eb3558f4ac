// Package ledgerpb 定義 ledger.v1.LedgerService 的訊息、服務描述與客戶端
//
// 訊息以 JSON 編碼 (content-subtype "json")，不需要 protoc 產生程式碼
package ledgerpb

import (
	"encoding/json"
	"strconv"
	"time"
)

type ApplyTransactionRequest struct {
	AccountId int64  `json:"account_id"`
	Kind      string `json:"kind"` // "credit" / "debit"
	// Value 保留原始 JSON，小數、字串或超出範圍由伺服器判定為無效輸入
	Value       json.RawMessage `json:"value,omitempty"`
	Description *string         `json:"description,omitempty"`
}

// IntValue 以整數字面值組出 Value
func IntValue(v int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(v, 10))
}

// RawValue 回傳 Value 的原始字面值，沒有提供或為 null 時回傳空字串
func (r *ApplyTransactionRequest) RawValue() string {
	if len(r.Value) == 0 || string(r.Value) == "null" {
		return ""
	}
	return string(r.Value)
}

type ApplyTransactionResponse struct {
	Limit   int64 `json:"limit"`
	Balance int64 `json:"balance"`
}

type GetStatementRequest struct {
	AccountId int64 `json:"account_id"`
}

type Balance struct {
	Total int64     `json:"total"`
	Limit int64     `json:"limit"`
	AsOf  time.Time `json:"as_of"`
}

type Transaction struct {
	Value       int64     `json:"value"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	PerformedAt time.Time `json:"performed_at"`
}

type GetStatementResponse struct {
	Balance          Balance       `json:"balance"`
	LastTransactions []Transaction `json:"last_transactions"`
}
