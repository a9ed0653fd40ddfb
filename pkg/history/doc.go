// Package history persists a log of plan executions in SQLite.
//
// Invariants:
// - Entries are append-only; pruning is the only delete path.
// - Recent returns entries newest first.
// - The store is safe for concurrent use by the gateway, watcher and CLI.
//
// Usage:
//
//	store, _ := history.New(history.Config{DBPath: "/data/history.db"})
//	defer store.Close()
//	_, _ = store.Record(ctx, history.Record{RunID: "run-1", Host: "text", Source: "cli", Success: true})
//	entries, _ := store.Recent(ctx, 20)
//	_ = entries
package history
