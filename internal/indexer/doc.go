// Package indexer replaces a tenant's embedded chunks in the vector index.
//
// A replacement never exposes a partially written index. New records are
// embedded and written under a fresh generation; the tenant's current
// generation is flipped only after every batch is stored, and older
// generations are then dropped:
//
//	w := indexer.NewWriter(index, embedder, indexer.Config{}, logger)
//	n, err := w.ReplaceAll(ctx, "acme", chunks)
//
// If anything fails before the flip the staged generation is removed and
// searches keep being served from the previous one.
package indexer
