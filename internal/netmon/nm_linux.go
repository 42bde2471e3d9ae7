//go:build linux

package netmon

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	nmBusName   = "org.freedesktop.NetworkManager"
	nmPath      = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmInterface = "org.freedesktop.NetworkManager"
)

// networkManager exposes the NetworkManager properties that feed the path.
type networkManager interface {
	State() nmState
	// Changes fires when a NetworkManager property changes.
	Changes() <-chan struct{}
	Close()
}

type dbusNetworkManager struct {
	conn     *dbus.Conn
	obj      dbus.BusObject
	signals  chan *dbus.Signal
	changes  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func connectNetworkManager() (networkManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	obj := conn.Object(nmBusName, nmPath)
	if _, err := obj.GetProperty(nmInterface + ".Connectivity"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("query NetworkManager: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(nmPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch NetworkManager properties: %w", err)
	}

	nm := &dbusNetworkManager{
		conn:    conn,
		obj:     obj,
		signals: make(chan *dbus.Signal, 16),
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	conn.Signal(nm.signals)
	go nm.forward()

	return nm, nil
}

// forward collapses D-Bus signals into a single pending wakeup.
func (nm *dbusNetworkManager) forward() {
	defer close(nm.changes)
	for {
		select {
		case <-nm.stop:
			return
		case _, ok := <-nm.signals:
			if !ok {
				return
			}
			select {
			case nm.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (nm *dbusNetworkManager) State() nmState {
	state := nmState{Available: true}

	if v, err := nm.obj.GetProperty(nmInterface + ".Metered"); err == nil {
		if metered, ok := v.Value().(uint32); ok {
			state.Metered = metered
		}
	} else {
		log.WithError(err).Trace("Failed to read NetworkManager metered state")
	}

	if v, err := nm.obj.GetProperty(nmInterface + ".Connectivity"); err == nil {
		if connectivity, ok := v.Value().(uint32); ok {
			state.Connectivity = connectivity
		}
	} else {
		log.WithError(err).Trace("Failed to read NetworkManager connectivity")
	}

	return state
}

func (nm *dbusNetworkManager) Changes() <-chan struct{} {
	return nm.changes
}

func (nm *dbusNetworkManager) Close() {
	nm.stopOnce.Do(func() {
		close(nm.stop)
		nm.conn.RemoveSignal(nm.signals)
		_ = nm.conn.Close()
	})
}
