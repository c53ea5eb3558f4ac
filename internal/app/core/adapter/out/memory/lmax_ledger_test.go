package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-limit-ledger/internal/app/core/domain"
)

func TestLMAXLedgerRequiresStart(t *testing.T) {
	l, err := NewLMAXLedger(seed())
	require.NoError(t, err)

	_, err = l.Apply(context.Background(), tx(1, domain.TransactionKindCredit, 10, "x"))
	assert.ErrorIs(t, err, domain.ErrLedgerClosed)
}

func TestLMAXLedgerStopsAfterContext(t *testing.T) {
	l, err := NewLMAXLedger(seed())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	_, err = l.Apply(context.Background(), tx(1, domain.TransactionKindCredit, 10, "x"))
	require.NoError(t, err)

	cancel()
	<-l.Done()

	_, err = l.Apply(context.Background(), tx(1, domain.TransactionKindCredit, 10, "y"))
	assert.ErrorIs(t, err, domain.ErrLedgerClosed)

	accounts, err := l.LoadAllAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), accounts[1].Balance)
}

func TestLMAXLedgerSkipsExpiredRequests(t *testing.T) {
	l, err := NewLMAXLedger(seed())
	require.NoError(t, err)
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	l.Start(runCtx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Apply(ctx, tx(1, domain.TransactionKindCredit, 10, "x"))
	assert.ErrorIs(t, err, context.Canceled)

	stmt, err := l.Statement(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stmt.Balance.Total)
	assert.Empty(t, stmt.LastTransactions)
}
