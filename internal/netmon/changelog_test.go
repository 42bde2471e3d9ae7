package netmon

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

func TestChangeLogger_Observe(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewChangeLogger(logger)
	defer c.Close()

	c.observe(path.Snapshot{
		Status:       path.Satisfied,
		SupportsIPv4: true,
		Interfaces:   []path.Interface{{Name: "en0", Type: path.WiFi}},
	})

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "Network path status changed", entries[0].Message)
	assert.Equal(t, path.Unsatisfied, entries[0].Data["from"])
	assert.Equal(t, path.Satisfied, entries[0].Data["to"])
	assert.Equal(t, "Network path capabilities changed", entries[1].Message)
	assert.Equal(t, "Interface joined network path", entries[2].Message)
	assert.Equal(t, "en0", entries[2].Data["interface"])
	assert.Equal(t, log.InfoLevel, entries[2].Level)

	hook.Reset()
	c.observe(path.Snapshot{Status: path.Satisfied, SupportsIPv4: true, Interfaces: []path.Interface{{Name: "en0", Type: path.WiFi}}})
	assert.Empty(t, hook.AllEntries(), "identical snapshot logs nothing")

	c.observe(path.Snapshot{Status: path.Satisfied, SupportsIPv4: true})
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Interface left network path", hook.LastEntry().Message)
}

func TestChangeLogger_Attach(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m, w := newStartedMonitor(t)

	c := NewChangeLogger(logger)
	c.Attach(m)

	w.Send(t, path.RawPath{Status: path.RawRequiresConnection})

	assert.Eventually(t, func() bool {
		e := hook.LastEntry()
		return e != nil && e.Message == "Network path status changed"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case <-c.exec.Done():
	default:
		t.Fatal("Close returned before the executor exited")
	}
}
