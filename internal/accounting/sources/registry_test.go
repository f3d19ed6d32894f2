package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type staticRepo struct {
	rows []Source
	err  error
}

func (r staticRepo) List(context.Context) ([]Source, error) { return r.rows, r.err }

func allRows() []Source {
	rows := make([]Source, 0, len(Kinds()))
	for i, kind := range Kinds() {
		rows = append(rows, Source{ID: int64(i + 1), Code: kind, Name: string(kind)})
	}
	return rows
}

func TestLoadRegistryResolvesEveryKind(t *testing.T) {
	reg, err := LoadRegistry(context.Background(), staticRepo{rows: allRows()})
	require.NoError(t, err)
	src, err := reg.Lookup(KindSalesReturn)
	require.NoError(t, err)
	require.Equal(t, int64(2), src.ID)
	require.Equal(t, int64(9), reg.ID(KindVendorBalance))
}

func TestLoadRegistryRejectsMissingKind(t *testing.T) {
	rows := allRows()[:len(Kinds())-1]
	_, err := LoadRegistry(context.Background(), staticRepo{rows: rows})
	require.ErrorIs(t, err, shared.ErrConfiguration)
	require.Contains(t, err.Error(), string(KindVendorBalance))
}

func TestLoadRegistryWrapsRepositoryFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := LoadRegistry(context.Background(), staticRepo{err: boom})
	require.ErrorIs(t, err, boom)
}

func TestRefKeyIsDeterministic(t *testing.T) {
	a := NewRef(KindSalesOrder, 42)
	b := NewRef(KindSalesOrder, 42)
	c := NewRef(KindSalesReturn, 42)
	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), c.Key())
	require.Equal(t, "SALES_ORDER:42", a.String())
}
