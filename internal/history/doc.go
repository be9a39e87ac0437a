// Package history keeps the bounded undo/redo history of an image editing
// session.
//
// A History is a linear sequence of snapshots with a cursor pointing at the
// active one. Key rules:
//
//   - Appending while the cursor is not at the end drops every entry after
//     the cursor (the redo branch) before the new entry is added.
//   - The sequence never grows beyond the manager's capacity. Overflow evicts
//     the oldest entries and the cursor keeps pointing at the new entry.
//   - Undo and redo move the cursor by one and are no-ops at the boundaries.
//
// Usage:
//
//	h := history.NewManager(history.DefaultCapacity)
//	h.Append(history.NewEntry("upload", payload, "image/png", preview, history.Upload{Filename: "cat.png"}))
//	h.Append(next)
//	prev, ok := h.Undo()
//
// A Manager is not safe for concurrent use. It belongs to one editing
// session, and the session's lock serializes access to it.
package history
