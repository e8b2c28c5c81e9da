// Package store provides the durable segment directories behind a view's
// persisted store (SQLite by default, bbolt as an alternative), an in-memory
// directory for memory nodes and tests, and the cross-process lock held on a
// view directory while it is open.
package store
