package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// maxBodyBytes 交易請求很小，超過即視為格式錯誤
const maxBodyBytes = 4 << 10

// transactionRequest 保留原始 JSON，型別錯誤交給 domain 驗證
type transactionRequest struct {
	Tipo      string          `json:"tipo"`
	Valor     json.RawMessage `json:"valor"`
	Descricao *string         `json:"descricao"`
}

// tipoKinds 同時接受單字母與完整名稱
var tipoKinds = map[string]string{
	"c":      "credit",
	"d":      "debit",
	"credit": "credit",
	"debit":  "debit",
}

type Handler struct {
	core   *usecase.CoreUseCase
	logger *zap.Logger
}

func NewHandler(core *usecase.CoreUseCase, logger *zap.Logger) *Handler {
	return &Handler{
		core:   core,
		logger: logger,
	}
}

// accountID 解析路徑上的帳戶 id，非整數或不在開帳清單內一律 404
func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || !h.core.HasAccount(id) {
		writeError(w, http.StatusNotFound, domain.ErrAccountNotFound.Error())
		return 0, false
	}
	return id, true
}

// PostTransaction POST /clientes/{id}/transacoes
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var body transactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "malformed request body")
		return
	}

	req := domain.TransactionRequest{
		Kind:        tipoKinds[body.Tipo],
		Description: body.Descricao,
	}
	if len(body.Valor) > 0 && string(body.Valor) != "null" {
		req.Value = string(body.Valor)
	}
	if req.Kind == "" {
		req.Kind = body.Tipo
	}

	result, err := h.core.ApplyTransaction(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Limite: result.Limit, Saldo: result.Balance})
}

// GetStatement GET /clientes/{id}/extrato
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	stmt, err := h.core.GetStatement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatementResponse(stmt))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}
