package netmon

import (
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

// Resolver configuration files, most authoritative first. The systemd-resolved
// file lists the real upstream servers rather than the local stub.
var defaultResolvConfPaths = []string{
	"/run/systemd/resolve/resolv.conf",
	"/etc/resolv.conf",
}

// dnsConfigured reports whether any of the resolver files names a server.
func dnsConfigured(paths []string) bool {
	for _, p := range paths {
		cfg, err := dns.ClientConfigFromFile(p)
		if err != nil {
			log.WithField("path", p).WithError(err).Trace("Skipping resolver configuration")
			continue
		}
		if len(cfg.Servers) > 0 {
			return true
		}
	}
	return false
}

// resolvTracker spots rewrites of the resolver files between path events.
type resolvTracker struct {
	paths []string
	stamp string
}

func newResolvTracker(paths []string) *resolvTracker {
	return &resolvTracker{paths: paths, stamp: resolvStamp(paths)}
}

// changed reports whether any file was created, removed or rewritten since
// the last call.
func (r *resolvTracker) changed() bool {
	next := resolvStamp(r.paths)
	if next == r.stamp {
		return false
	}
	r.stamp = next
	return true
}

func resolvStamp(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			b.WriteString("-;")
			continue
		}
		fmt.Fprintf(&b, "%d:%d;", fi.ModTime().UnixNano(), fi.Size())
	}
	return b.String()
}
