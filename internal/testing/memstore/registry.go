package memstore

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"

// Registry returns a registry holding every source kind, numbered from 1 in Kinds order.
func Registry() *sources.Registry {
	rows := make([]sources.Source, 0, len(sources.Kinds()))
	for i, kind := range sources.Kinds() {
		rows = append(rows, sources.Source{ID: int64(i + 1), Code: kind, Name: string(kind)})
	}
	reg, err := sources.NewRegistry(rows)
	if err != nil {
		panic(err)
	}
	return reg
}
