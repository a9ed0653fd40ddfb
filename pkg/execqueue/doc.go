// Package execqueue serializes plan execution per document.
//
// Invariants:
// - A lane runs one task at a time; lanes are keyed by document id.
// - Distinct lanes run concurrently.
// - Enqueue blocks the caller until its task settles.
//
// Usage:
//
//	q := execqueue.New(logger)
//	defer q.Close()
//	result, _ := q.Enqueue(ctx, "report.docx", func(ctx context.Context) (interface{}, error) {
//		return eng.Execute(ctx, session, raw, nil)
//	}, nil)
//	_ = result
package execqueue
