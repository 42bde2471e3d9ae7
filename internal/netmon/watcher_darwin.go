//go:build darwin

package netmon

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

type darwinWatcher struct {
	resolvConfPaths []string
}

func newPlatformWatcher(cfg WatcherConfig) Watcher {
	return &darwinWatcher{resolvConfPaths: defaultResolvConfPaths}
}

func (w *darwinWatcher) Watch(ctx context.Context, emit func(path.RawPath)) error {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return fmt.Errorf("open route socket: %w", err)
	}

	var closeOnce sync.Once
	closeFd := func() { closeOnce.Do(func() { unix.Close(fd) }) }
	defer closeFd()

	// Unblocks the read below when the context is cancelled.
	go func() {
		<-ctx.Done()
		closeFd()
	}()

	var filter changeFilter
	raw, err := w.evaluate()
	if err != nil {
		return err
	}
	filter.changed(raw)
	emit(raw)

	log.Debug("Darwin route socket watcher initialized")

	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if err == unix.EINTR || err == unix.ENOBUFS {
				continue
			}
			return fmt.Errorf("read route socket: %w", err)
		}

		// Routing message header: msglen(2) version(1) type(1) ...
		if n < 4 {
			continue
		}
		msgType := int(buf[3])
		switch msgType {
		case unix.RTM_ADD, unix.RTM_DELETE, unix.RTM_CHANGE,
			unix.RTM_NEWADDR, unix.RTM_DELADDR, unix.RTM_IFINFO:
		default:
			continue
		}

		log.WithField("msgType", msgType).Trace("Received routing message")

		raw, err := w.evaluate()
		if err != nil {
			log.WithError(err).Warn("Failed to evaluate network path")
			continue
		}
		if filter.changed(raw) {
			emit(raw)
		}
	}
}

func (w *darwinWatcher) evaluate() (path.RawPath, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return path.RawPath{}, fmt.Errorf("list interfaces: %w", err)
	}

	in := pathInputs{DNS: dnsConfigured(w.resolvConfPaths)}
	for i := range ifaces {
		in.Links = append(in.Links, interfaceState(&ifaces[i]))
	}

	routes, err := darwinDefaultRoutes()
	if err != nil {
		return path.RawPath{}, err
	}
	in.Routes = routes

	return assemblePath(in), nil
}

func interfaceState(iface *net.Interface) linkState {
	l := linkState{
		Index: iface.Index,
		Name:  iface.Name,
		Kind:  kindFromName(iface.Name, iface.Flags&net.FlagLoopback != 0),
	}
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
		return l
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return l
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		l.Usable = true
		if !addr.IsGlobalUnicast() {
			continue
		}
		if addr.Is4() {
			l.HasIPv4 = true
		} else {
			l.HasIPv6 = true
		}
	}
	return l
}

func darwinDefaultRoutes() ([]defaultRoute, error) {
	rib, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeRoute, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch routing table: %w", err)
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}

	var out []defaultRoute
	for _, m := range msgs {
		rm, ok := m.(*route.RouteMessage)
		if !ok || rm.Flags&unix.RTF_UP == 0 || len(rm.Addrs) <= unix.RTAX_NETMASK {
			continue
		}
		if !isZeroAddr(rm.Addrs[unix.RTAX_NETMASK]) {
			continue
		}
		switch dst := rm.Addrs[unix.RTAX_DST].(type) {
		case *route.Inet4Addr:
			if dst.IP == [4]byte{} {
				out = append(out, defaultRoute{LinkIndex: rm.Index})
			}
		case *route.Inet6Addr:
			if dst.IP == [16]byte{} {
				out = append(out, defaultRoute{LinkIndex: rm.Index, IPv6: true})
			}
		}
	}
	return out, nil
}

// isZeroAddr treats a missing netmask as /0, which is how the kernel reports
// default routes.
func isZeroAddr(a route.Addr) bool {
	switch m := a.(type) {
	case nil:
		return true
	case *route.Inet4Addr:
		return m.IP == [4]byte{}
	case *route.Inet6Addr:
		return m.IP == [16]byte{}
	}
	return false
}
