package watcher

import (
	"context"
	"fmt"
	"os"
	"time"
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// poller detects changes by rescanning the folder on an interval.
type poller struct {
	dir      string
	interval time.Duration
	include  func(name string) bool
	state    map[string]fileSnapshot
}

func newPoller(dir string, interval time.Duration, include func(string) bool) *poller {
	return &poller{dir: dir, interval: interval, include: include}
}

// snapshot lists the included regular files at the top level of dir.
func (p *poller) snapshot() (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p.dir, err)
	}
	snap := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if e.IsDir() || !p.include(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snap[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return snap, nil
}

// diff compares a new snapshot with the previous one and stores it.
func (p *poller) diff(current map[string]fileSnapshot) []FileEvent {
	now := time.Now()
	var events []FileEvent
	for name, cur := range current {
		prev, ok := p.state[name]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: name, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(cur.modTime) || prev.size != cur.size:
			events = append(events, FileEvent{Path: name, Operation: OpModify, Timestamp: now})
		}
	}
	for name := range p.state {
		if _, ok := current[name]; !ok {
			events = append(events, FileEvent{Path: name, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return events
}

// run takes a baseline, then emits changes until ctx is done. Scan errors are
// reported through onError and polling continues.
func (p *poller) run(ctx context.Context, emit func(FileEvent), onError func(error)) error {
	base, err := p.snapshot()
	if err != nil {
		return err
	}
	p.state = base

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := p.snapshot()
			if err != nil {
				onError(err)
				continue
			}
			for _, ev := range p.diff(snap) {
				emit(ev)
			}
		}
	}
}
