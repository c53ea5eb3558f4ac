package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-limit-ledger/internal/app/core/usecase"
)

// failingLedger 每次呼叫都回傳指定錯誤
type failingLedger struct {
	err error
}

func (f failingLedger) Apply(context.Context, *domain.Transaction) (domain.ApplyResult, error) {
	return domain.ApplyResult{}, f.err
}

func (f failingLedger) Statement(context.Context, int64) (domain.Statement, error) {
	return domain.Statement{}, f.err
}

func (f failingLedger) LoadAllAccounts(context.Context) (map[int64]*domain.Account, error) {
	return map[int64]*domain.Account{1: domain.NewAccount(1, 1000, 0)}, nil
}

func newServer(t *testing.T, ledger usecase.Ledger) *httptest.Server {
	t.Helper()
	core, err := usecase.NewCoreUseCase(context.Background(), ledger,
		usecase.WithRetry(usecase.RetryConfig{MaxAttempts: 1}))
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(NewHandler(core, zap.NewNop()), zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func newMemoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	l, err := memory.NewMutexLedger(map[int64]*domain.Account{
		1: domain.NewAccount(1, 1000, 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return newServer(t, l)
}

func post(t *testing.T, srv *httptest.Server, id, body string) (int, transactionResponse) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/clientes/"+id+"/transacoes", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out transactionResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func statement(t *testing.T, srv *httptest.Server, id string) (int, statementResponse) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/clientes/" + id + "/extrato")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out statementResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestDebitToLimitThenCredit(t *testing.T) {
	srv := newMemoryServer(t)

	code, res := post(t, srv, "1", `{"tipo":"d","valor":1000,"descricao":"rent"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, transactionResponse{Limite: 1000, Saldo: -1000}, res)

	code, _ = post(t, srv, "1", `{"tipo":"d","valor":1,"descricao":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, res = post(t, srv, "1", `{"tipo":"credit","valor":500,"descricao":"pay"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, transactionResponse{Limite: 1000, Saldo: -500}, res)

	code, stmt := statement(t, srv, "1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(-500), stmt.Saldo.Total)
	assert.Equal(t, int64(1000), stmt.Saldo.Limite)
	assert.False(t, stmt.Saldo.DataExtrato.IsZero())
	require.Len(t, stmt.UltimasTransacoes, 2)
	assert.Equal(t, "c", stmt.UltimasTransacoes[0].Tipo)
	assert.Equal(t, "pay", stmt.UltimasTransacoes[0].Descricao)
	assert.Equal(t, "d", stmt.UltimasTransacoes[1].Tipo)
	assert.Equal(t, int64(1000), stmt.UltimasTransacoes[1].Valor)
}

func TestUnknownAccount(t *testing.T) {
	srv := newMemoryServer(t)

	for _, id := range []string{"99", "abc", "1.5"} {
		code, _ := post(t, srv, id, `{"tipo":"c","valor":10,"descricao":"x"}`)
		assert.Equal(t, http.StatusNotFound, code, id)
		code, _ = statement(t, srv, id)
		assert.Equal(t, http.StatusNotFound, code, id)
	}

	// 帳戶不存在時不看 body
	code, _ := post(t, srv, "99", `not json`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInvalidTransactions(t *testing.T) {
	srv := newMemoryServer(t)

	bodies := []string{
		`{"tipo":"c","valor":10,"descricao":""}`,
		`{"tipo":"c","valor":10,"descricao":"elevenchars"}`,
		`{"tipo":"c","valor":10,"descricao":null}`,
		`{"tipo":"c","valor":10}`,
		`{"tipo":"c","valor":1.5,"descricao":"x"}`,
		`{"tipo":"c","valor":"10","descricao":"x"}`,
		`{"tipo":"c","valor":0,"descricao":"x"}`,
		`{"tipo":"c","valor":-5,"descricao":"x"}`,
		`{"tipo":"c","descricao":"x"}`,
		`{"tipo":"x","valor":10,"descricao":"x"}`,
		`{"valor":10,"descricao":"x"}`,
		`{"tipo":"c","valor":99999999999999999999,"descricao":"x"}`,
		`not json`,
	}
	for _, body := range bodies {
		code, _ := post(t, srv, "1", body)
		assert.Equal(t, http.StatusUnprocessableEntity, code, body)
	}

	_, stmt := statement(t, srv, "1")
	assert.Equal(t, int64(0), stmt.Saldo.Total)
	assert.Empty(t, stmt.UltimasTransacoes)
	assert.NotNil(t, stmt.UltimasTransacoes)
}

func TestStorageFailureIs503(t *testing.T) {
	srv := newServer(t, failingLedger{err: domain.ErrStorageFailure})

	code, _ := post(t, srv, "1", `{"tipo":"c","valor":10,"descricao":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = statement(t, srv, "1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestInternalErrorIs500(t *testing.T) {
	srv := newServer(t, failingLedger{err: assert.AnError})

	code, _ := statement(t, srv, "1")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newMemoryServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, srv, "1", `{"tipo":"c","valor":10,"descricao":"x"}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ledger_http_request_duration_seconds")
	assert.Contains(t, buf.String(), `route="/clientes/{id}/transacoes"`)
}
