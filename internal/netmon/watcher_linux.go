//go:build linux

package netmon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

// resolvCheckInterval is how often the resolver files are checked for
// changes that arrive without any netlink event.
const resolvCheckInterval = 2 * time.Second

type linuxWatcher struct {
	sysfsRoot       string
	resolvConfPaths []string
	resolvInterval  time.Duration
	connectNM       func() (networkManager, error)
}

func newPlatformWatcher(cfg WatcherConfig) Watcher {
	return newLinuxWatcher()
}

func newLinuxWatcher() *linuxWatcher {
	return &linuxWatcher{
		sysfsRoot:       "/sys/class/net",
		resolvConfPaths: defaultResolvConfPaths,
		resolvInterval:  resolvCheckInterval,
		connectNM:       connectNetworkManager,
	}
}

func (w *linuxWatcher) Watch(ctx context.Context, emit func(path.RawPath)) error {
	done := make(chan struct{})
	defer close(done)

	errCh := make(chan error, 3)
	onError := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	linkCh := make(chan netlink.LinkUpdate, 32)
	if err := netlink.LinkSubscribeWithOptions(linkCh, done, netlink.LinkSubscribeOptions{ErrorCallback: onError}); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	addrCh := make(chan netlink.AddrUpdate, 32)
	if err := netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{ErrorCallback: onError}); err != nil {
		return fmt.Errorf("subscribe to address updates: %w", err)
	}

	routeCh := make(chan netlink.RouteUpdate, 32)
	if err := netlink.RouteSubscribeWithOptions(routeCh, done, netlink.RouteSubscribeOptions{ErrorCallback: onError}); err != nil {
		return fmt.Errorf("subscribe to route updates: %w", err)
	}

	nm, err := w.connectNM()
	if err != nil {
		log.WithError(err).Debug("NetworkManager not available, metered state unknown")
		nm = nil
	}
	var nmCh <-chan struct{}
	if nm != nil {
		defer nm.Close()
		nmCh = nm.Changes()
	}

	resolv := newResolvTracker(w.resolvConfPaths)
	ticker := time.NewTicker(w.resolvInterval)
	defer ticker.Stop()

	var filter changeFilter
	raw, err := w.evaluate(nm)
	if err != nil {
		return err
	}
	filter.changed(raw)
	emit(raw)

	log.Debug("Linux netlink watcher initialized")

	for {
		select {
		case <-ctx.Done():
			return nil

		case update, ok := <-linkCh:
			if !ok {
				return errors.New("link subscription closed")
			}
			log.WithFields(log.Fields{
				"interface": update.Link.Attrs().Name,
				"type":      update.Header.Type,
			}).Trace("Received link update")

		case update, ok := <-addrCh:
			if !ok {
				return errors.New("address subscription closed")
			}
			log.WithFields(log.Fields{
				"index": update.LinkIndex,
				"addr":  update.LinkAddress.String(),
				"new":   update.NewAddr,
			}).Trace("Received address update")

		case update, ok := <-routeCh:
			if !ok {
				return errors.New("route subscription closed")
			}
			log.WithFields(log.Fields{
				"index": update.LinkIndex,
				"type":  update.Type,
			}).Trace("Received route update")

		case _, ok := <-nmCh:
			if !ok {
				log.Debug("NetworkManager signal stream closed")
				nmCh = nil
				continue
			}
			log.Trace("Received NetworkManager property change")

		case <-ticker.C:
			if !resolv.changed() {
				continue
			}
			log.Trace("Resolver configuration changed")

		case err := <-errCh:
			return fmt.Errorf("netlink subscription: %w", err)
		}

		// A single change usually arrives as a burst of messages.
		drain(linkCh, addrCh, routeCh)

		raw, err := w.evaluate(nm)
		if err != nil {
			log.WithError(err).Warn("Failed to evaluate network path")
			continue
		}
		if filter.changed(raw) {
			emit(raw)
		}
	}
}

func drain(linkCh chan netlink.LinkUpdate, addrCh chan netlink.AddrUpdate, routeCh chan netlink.RouteUpdate) {
	for {
		select {
		case _, ok := <-linkCh:
			if !ok {
				return
			}
		case _, ok := <-addrCh:
			if !ok {
				return
			}
		case _, ok := <-routeCh:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (w *linuxWatcher) evaluate(nm networkManager) (path.RawPath, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return path.RawPath{}, fmt.Errorf("list links: %w", err)
	}

	in := pathInputs{DNS: dnsConfigured(w.resolvConfPaths)}
	for _, link := range links {
		in.Links = append(in.Links, w.linkState(link))
	}

	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := netlink.RouteList(nil, family)
		if err != nil {
			return path.RawPath{}, fmt.Errorf("list routes: %w", err)
		}
		in.Routes = append(in.Routes, defaultRoutes(routes, family == netlink.FAMILY_V6)...)
	}

	if nm != nil {
		in.NM = nm.State()
	}

	return assemblePath(in), nil
}

func (w *linuxWatcher) linkState(link netlink.Link) linkState {
	attrs := link.Attrs()

	l := linkState{
		Index: attrs.Index,
		Name:  attrs.Name,
		Kind: classifyLink(linkFacts{
			Name:      attrs.Name,
			LinkType:  link.Type(),
			EncapType: attrs.EncapType,
			Loopback:  attrs.Flags&net.FlagLoopback != 0,
			Wireless:  w.isWireless(attrs.Name),
			WWAN:      w.isWWAN(attrs.Name),
		}),
		Dormant: attrs.OperState == netlink.OperDormant,
	}

	// Loopback and tun devices report an unknown operational state.
	up := attrs.OperState == netlink.OperUp ||
		(attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0)
	if !up {
		return l
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		log.WithField("interface", attrs.Name).WithError(err).Trace("Failed to list addresses")
		return l
	}

	for _, addr := range addrs {
		if addr.IPNet == nil || addr.Flags&(unix.IFA_F_TENTATIVE|unix.IFA_F_DADFAILED) != 0 {
			continue
		}
		l.Usable = true
		if addr.Scope != unix.RT_SCOPE_UNIVERSE {
			continue
		}
		if addr.IP.To4() != nil {
			l.HasIPv4 = true
		} else {
			l.HasIPv6 = true
		}
	}
	return l
}

func defaultRoutes(routes []netlink.Route, ipv6 bool) []defaultRoute {
	var out []defaultRoute
	for _, r := range routes {
		if !isDefaultDst(r.Dst) {
			continue
		}
		if len(r.MultiPath) > 0 {
			for _, hop := range r.MultiPath {
				out = append(out, defaultRoute{LinkIndex: hop.LinkIndex, IPv6: ipv6, Priority: r.Priority})
			}
			continue
		}
		out = append(out, defaultRoute{LinkIndex: r.LinkIndex, IPv6: ipv6, Priority: r.Priority})
	}
	return out
}

func isDefaultDst(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0
}

func (w *linuxWatcher) isWireless(name string) bool {
	for _, entry := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join(w.sysfsRoot, name, entry)); err == nil {
			return true
		}
	}
	return false
}

func (w *linuxWatcher) isWWAN(name string) bool {
	b, err := os.ReadFile(filepath.Join(w.sysfsRoot, name, "uevent"))
	if err != nil {
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if sc.Text() == "DEVTYPE=wwan" {
			return true
		}
	}
	return false
}
