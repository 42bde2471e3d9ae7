package netmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

func TestChangeFilter(t *testing.T) {
	var f changeFilter

	assert.True(t, f.changed(path.RawPath{}), "first path always passes")
	assert.False(t, f.changed(path.RawPath{}))

	wifi := wifiPath()
	assert.True(t, f.changed(wifi))
	assert.False(t, f.changed(wifiPath()))

	wifi.IPv6 = true
	assert.True(t, f.changed(wifi))
}

func TestNewWatcher_Poll(t *testing.T) {
	w := NewWatcher(WatcherConfig{Mode: ModePoll, PollInterval: 5 * time.Second})

	pw, ok := w.(*pollWatcher)
	if assert.True(t, ok) {
		assert.Equal(t, 5*time.Second, pw.interval)
	}
}

func TestNewWatcher_DefaultInterval(t *testing.T) {
	w := NewWatcher(WatcherConfig{Mode: ModePoll})

	pw, ok := w.(*pollWatcher)
	if assert.True(t, ok) {
		assert.Equal(t, DefaultPollInterval, pw.interval)
	}
}

func TestNewWatcher_Auto(t *testing.T) {
	assert.NotNil(t, NewWatcher(WatcherConfig{Mode: ModeAuto}))
	assert.NotNil(t, NewWatcher(WatcherConfig{}))
}
