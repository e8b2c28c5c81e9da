package watcher

import (
	"os"
	"sync"
	"time"
)

// fileSnapshot is what polling compares between scans.
type fileSnapshot struct {
	modTime time.Time
	size    int64
	exists  bool
}

func snapshot(path string) fileSnapshot {
	info, err := os.Stat(path)
	if err != nil {
		return fileSnapshot{}
	}
	return fileSnapshot{modTime: info.ModTime(), size: info.Size(), exists: true}
}

// poller detects changes of a fixed set of files by comparing snapshots.
type poller struct {
	mu    sync.Mutex
	files map[string]fileSnapshot
}

func newPoller() *poller {
	return &poller{files: make(map[string]fileSnapshot)}
}

func (p *poller) add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[path] = snapshot(path)
}

func (p *poller) remove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, path)
}

// changed rescans every file and returns those that differ from the last
// scan.
func (p *poller) changed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for path, before := range p.files {
		now := snapshot(path)
		if now != before {
			p.files[path] = now
			out = append(out, path)
		}
	}
	return out
}
