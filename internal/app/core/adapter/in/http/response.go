package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
)

type transactionResponse struct {
	Limite int64 `json:"limite"`
	Saldo  int64 `json:"saldo"`
}

type balanceResponse struct {
	Total       int64     `json:"total"`
	DataExtrato time.Time `json:"data_extrato"`
	Limite      int64     `json:"limite"`
}

type statementEntry struct {
	Valor       int64     `json:"valor"`
	Tipo        string    `json:"tipo"`
	Descricao   string    `json:"descricao"`
	RealizadaEm time.Time `json:"realizada_em"`
}

type statementResponse struct {
	Saldo             balanceResponse  `json:"saldo"`
	UltimasTransacoes []statementEntry `json:"ultimas_transacoes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// kindCodes 對外使用單字母的交易類型
var kindCodes = map[domain.TransactionKind]string{
	domain.TransactionKindCredit: "c",
	domain.TransactionKindDebit:  "d",
}

func newStatementResponse(stmt domain.Statement) statementResponse {
	resp := statementResponse{
		Saldo: balanceResponse{
			Total:       stmt.Balance.Total,
			DataExtrato: stmt.Balance.AsOf,
			Limite:      stmt.Balance.Limit,
		},
		UltimasTransacoes: make([]statementEntry, 0, len(stmt.LastTransactions)),
	}
	for _, tran := range stmt.LastTransactions {
		resp.UltimasTransacoes = append(resp.UltimasTransacoes, statementEntry{
			Valor:       tran.Value,
			Tipo:        kindCodes[tran.Kind],
			Descricao:   tran.Description,
			RealizadaEm: tran.PerformedAt,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf 將 domain 錯誤對應到 HTTP 狀態碼
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput, domain.KindLimitExceeded:
		return http.StatusUnprocessableEntity
	case domain.KindStorageFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
