package netmon

import (
	"strings"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

// Link types that never carry a physical medium of their own.
var virtualLinkTypes = map[string]struct{}{
	"bridge":    {},
	"veth":      {},
	"vlan":      {},
	"tuntap":    {},
	"tun":       {},
	"wireguard": {},
	"bond":      {},
	"macvlan":   {},
	"macvtap":   {},
	"ipvlan":    {},
	"vxlan":     {},
	"gre":       {},
	"gretap":    {},
	"ip6gre":    {},
	"ipip":      {},
	"ip6tnl":    {},
	"sit":       {},
	"ppp":       {},
	"dummy":     {},
	"vrf":       {},
	"geneve":    {},
	"ifb":       {},
}

type linkFacts struct {
	Name      string
	LinkType  string // netlink link type, "device" for physical links
	EncapType string // ARPHRD name: "ether", "loopback", "none", ...
	Loopback  bool
	Wireless  bool
	WWAN      bool
}

// classifyLink returns the raw interface kind for a Linux link. Links it
// cannot place keep their encapsulation type, which translates to Unknown.
func classifyLink(f linkFacts) string {
	switch {
	case f.Loopback || f.EncapType == "loopback":
		return path.KindLoopback
	case f.Wireless:
		return path.KindWiFi
	case f.WWAN || strings.HasPrefix(f.Name, "wwan") || strings.HasPrefix(f.Name, "rmnet"):
		return path.KindCellular
	}

	if _, ok := virtualLinkTypes[f.LinkType]; ok {
		return path.KindOther
	}
	if f.EncapType == "ether" {
		return path.KindEther
	}
	if f.EncapType == "" {
		return f.LinkType
	}
	return f.EncapType
}

// kindFromName guesses the interface kind from BSD style interface names.
func kindFromName(name string, loopback bool) string {
	if loopback {
		return path.KindLoopback
	}

	prefixes := []struct {
		prefix string
		kind   string
	}{
		{"lo", path.KindLoopback},
		{"pdp_ip", path.KindCellular},
		{"wwan", path.KindCellular},
		{"rmnet", path.KindCellular},
		{"awdl", path.KindWiFi},
		{"llw", path.KindWiFi},
		{"wlan", path.KindWiFi},
		{"wl", path.KindWiFi},
		{"en", path.KindEther},
		{"eth", path.KindEther},
		{"utun", path.KindOther},
		{"tun", path.KindOther},
		{"tap", path.KindOther},
		{"ipsec", path.KindOther},
		{"bridge", path.KindOther},
		{"gif", path.KindOther},
		{"stf", path.KindOther},
		{"anpi", path.KindOther},
		{"ap", path.KindOther},
		{"ppp", path.KindOther},
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.kind
		}
	}
	return "unknown"
}
