package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/dmdmdm-nz/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/pathmond/internal/path"
	"github.com/dmdmdm-nz/pathmond/pkg/version"
)

const (
	ServiceType = "_pathmond._tcp"
	Domain      = "local."
)

// txtServer is the part of a zeroconf registration the advertiser drives.
type txtServer interface {
	SetText(text []string)
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (txtServer, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (txtServer, error) {
	srv, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Advertiser announces the path API over mDNS and keeps the TXT record's
// status in step with the network path.
type Advertiser struct {
	instance string
	port     int
	protocol string
	register registerFunc

	pathCh    <-chan path.Snapshot
	pathUnsub func()
	unsubOnce sync.Once

	mu     sync.Mutex
	srv    txtServer
	closed bool
}

func NewAdvertiser(instance string, port int, protocol string) *Advertiser {
	return &Advertiser{
		instance: instance,
		port:     port,
		protocol: protocol,
		register: zeroconfRegister,
	}
}

// AttachPath wires the snapshot stream (must be called before Start).
func (a *Advertiser) AttachPath(ch <-chan path.Snapshot, unsub func()) {
	a.pathCh = ch
	a.pathUnsub = unsub
}

func (a *Advertiser) Start(ctx context.Context) error {
	if a.pathCh == nil {
		return errors.New("AttachPath was not called before Start")
	}

	// The first snapshot on the stream is the current one.
	var current path.Snapshot
	select {
	case <-ctx.Done():
		return nil
	case snap, ok := <-a.pathCh:
		if !ok {
			return nil
		}
		current = snap
	}

	srv, err := a.register(a.instance, ServiceType, Domain, a.port, a.text(current), nil)
	if err != nil {
		a.detach()
		return fmt.Errorf("register mDNS service: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		srv.Shutdown()
		return nil
	}
	a.srv = srv
	a.mu.Unlock()

	log.WithFields(log.Fields{
		"instance": a.instance,
		"service":  ServiceType,
		"port":     a.port,
	}).Info("Advertising path API over mDNS")
	defer log.Info("Stopping mDNS advertisement")

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-a.pathCh:
			if !ok {
				return nil
			}
			if snap.Status == current.Status {
				continue
			}
			current = snap
			srv.SetText(a.text(current))
			log.WithField("status", current.Status).Debug("Updated mDNS TXT record")
		}
	}
}

func (a *Advertiser) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	srv := a.srv
	a.mu.Unlock()

	a.detach()
	if srv != nil {
		srv.Shutdown()
	}
	return nil
}

// detach releases the snapshot stream at most once.
func (a *Advertiser) detach() {
	a.unsubOnce.Do(func() {
		if a.pathUnsub != nil {
			a.pathUnsub()
		}
	})
}

func (a *Advertiser) text(s path.Snapshot) []string {
	return []string{
		"version=" + version.Version,
		"protocol=" + a.protocol,
		"status=" + s.Status.String(),
		"path=/ws/path",
	}
}
