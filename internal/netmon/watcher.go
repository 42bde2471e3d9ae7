package netmon

import (
	"context"
	"time"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

// Watcher reports the host network path using a platform-specific event
// mechanism (netlink on Linux, route sockets on macOS, sampling elsewhere).
type Watcher interface {
	// Watch calls emit with the initial path, then once for every change.
	// emit is always called from the goroutine running Watch.
	// Blocks until ctx is cancelled (returning nil) or observation fails.
	Watch(ctx context.Context, emit func(path.RawPath)) error
}

// WatchFunc adapts a function to the Watcher interface.
type WatchFunc func(ctx context.Context, emit func(path.RawPath)) error

func (f WatchFunc) Watch(ctx context.Context, emit func(path.RawPath)) error {
	return f(ctx, emit)
}

const (
	ModeAuto = "auto"
	ModePoll = "poll"
)

const DefaultPollInterval = 2 * time.Second

type WatcherConfig struct {
	// Mode selects the platform watcher (ModeAuto) or interface sampling
	// (ModePoll).
	Mode         string
	PollInterval time.Duration
}

// NewWatcher returns the watcher for this platform, or the sampling watcher
// when cfg asks for it.
func NewWatcher(cfg WatcherConfig) Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Mode == ModePoll {
		return newPollWatcher(cfg.PollInterval)
	}
	return newPlatformWatcher(cfg)
}

// changeFilter drops paths identical to the last one emitted.
type changeFilter struct {
	last    path.RawPath
	emitted bool
}

func (f *changeFilter) changed(raw path.RawPath) bool {
	if f.emitted && f.last.Equal(raw) {
		return false
	}
	f.last = raw
	f.emitted = true
	return true
}
