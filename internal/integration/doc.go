// Package integration holds end-to-end tests that run views, a shared sync
// worker and the properties watcher together against real segment stores.
package integration
