// Package watcher reloads view properties when their file changes on disk.
//
// Each watched view directory is observed with fsnotify, falling back to
// polling where fsnotify is unavailable (network mounts, some container
// volumes). Changes are debounced per directory, so an editor's burst of
// writes or an atomic rename causes a single reload.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	_ = w.Watch(v.DataDir(), v)
//	go w.Run(ctx)
package watcher
