package netmon

import (
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/pathmond/internal/path"
	"github.com/dmdmdm-nz/pathmond/internal/runtime"
)

// ChangeLogger logs what changed between consecutive snapshots. It observes
// on its own serial executor so logging never holds up the watch goroutine.
type ChangeLogger struct {
	logger log.FieldLogger
	exec   *runtime.Serial
	sub    *Subscription
	prev   path.Snapshot
}

func NewChangeLogger(logger log.FieldLogger) *ChangeLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ChangeLogger{
		logger: logger,
		exec:   runtime.NewSerial(),
		prev:   path.DefaultSnapshot(),
	}
}

// Attach subscribes the logger to m.
func (c *ChangeLogger) Attach(m *Monitor) {
	c.sub = m.Subscribe(c.exec, c.observe)
}

// Close detaches the logger and waits for an in-flight entry to finish.
func (c *ChangeLogger) Close() error {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.exec.Close()
	<-c.exec.Done()
	return nil
}

func (c *ChangeLogger) observe(cur path.Snapshot) {
	for _, ch := range path.Diff(c.prev, cur) {
		switch ch.Type {
		case path.StatusChanged:
			c.logger.WithFields(log.Fields{
				"from": c.prev.Status,
				"to":   cur.Status,
			}).Info("Network path status changed")
		case path.CapabilitiesChanged:
			c.logger.WithFields(log.Fields{
				"ipv4":        cur.SupportsIPv4,
				"ipv6":        cur.SupportsIPv6,
				"dns":         cur.SupportsDNS,
				"expensive":   cur.IsExpensive,
				"constrained": cur.IsConstrained,
			}).Info("Network path capabilities changed")
		case path.InterfaceAdded:
			c.logger.WithFields(log.Fields{
				"interface": ch.InterfaceName,
				"type":      ch.InterfaceType,
			}).Info("Interface joined network path")
		case path.InterfaceRemoved:
			c.logger.WithFields(log.Fields{
				"interface": ch.InterfaceName,
				"type":      ch.InterfaceType,
			}).Info("Interface left network path")
		}
	}
	c.prev = cur
}
