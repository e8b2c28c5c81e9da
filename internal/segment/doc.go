// Package segment implements the segmented index store that backs a view.
//
// A Store owns a Writer that buffers insert/remove operations, optionally
// grouped into per-transaction generations. Commit turns the retained
// operations into an immutable Segment. Readers are immutable point-in-time
// lists of segments in which the newest segment wins for any key, so a reader
// handed to a query never changes underneath it.
//
// Durable persistence is delegated to a Directory; a Store opened without one
// lives in memory only.
package segment
