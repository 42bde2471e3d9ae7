package netmon

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

// pollWatcher samples the interface list on platforms without a change
// notification mechanism. It still only emits when the path changes.
type pollWatcher struct {
	interval        time.Duration
	listInterfaces  func(ctx context.Context) (gopsnet.InterfaceStatList, error)
	resolvConfPaths []string
}

func newPollWatcher(interval time.Duration) *pollWatcher {
	return &pollWatcher{
		interval:        interval,
		listInterfaces:  gopsnet.InterfacesWithContext,
		resolvConfPaths: defaultResolvConfPaths,
	}
}

func (w *pollWatcher) Watch(ctx context.Context, emit func(path.RawPath)) error {
	var filter changeFilter

	raw, err := w.evaluate(ctx)
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	filter.changed(raw)
	emit(raw)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			raw, err := w.evaluate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.WithError(err).Warn("Failed to sample network interfaces")
				continue
			}
			if filter.changed(raw) {
				emit(raw)
			}
		}
	}
}

func (w *pollWatcher) evaluate(ctx context.Context) (path.RawPath, error) {
	stats, err := w.listInterfaces(ctx)
	if err != nil {
		return path.RawPath{}, err
	}

	in := pathInputs{DNS: dnsConfigured(w.resolvConfPaths)}
	for _, st := range stats {
		l, ok := linkFromStat(st)
		if !ok {
			continue
		}
		in.Links = append(in.Links, l)

		// Without a routing table a global address is the best evidence of a route.
		if l.Kind == path.KindLoopback {
			continue
		}
		if l.HasIPv4 {
			in.Routes = append(in.Routes, defaultRoute{LinkIndex: l.Index})
		}
		if l.HasIPv6 {
			in.Routes = append(in.Routes, defaultRoute{LinkIndex: l.Index, IPv6: true})
		}
	}
	return assemblePath(in), nil
}

func linkFromStat(st gopsnet.InterfaceStat) (linkState, bool) {
	up := slices.Contains(st.Flags, "up")
	if !up {
		return linkState{}, false
	}
	loopback := slices.Contains(st.Flags, "loopback")

	l := linkState{
		Index: st.Index,
		Name:  st.Name,
		Kind:  kindFromName(st.Name, loopback),
	}

	for _, a := range st.Addrs {
		addr, ok := parseStatAddr(a.Addr)
		if !ok {
			continue
		}
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
	return l, true
}

// parseStatAddr accepts both "10.0.0.2/24" and bare addresses.
func parseStatAddr(s string) (netip.Addr, bool) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Addr{}, false
		}
		return prefix.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
