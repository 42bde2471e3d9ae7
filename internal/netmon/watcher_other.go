//go:build !linux && !darwin

package netmon

func newPlatformWatcher(cfg WatcherConfig) Watcher {
	return newPollWatcher(cfg.PollInterval)
}
