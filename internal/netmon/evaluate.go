package netmon

import (
	"slices"
	"sort"

	"github.com/dmdmdm-nz/pathmond/internal/path"
)

// linkState is what the evaluator needs to know about one interface.
type linkState struct {
	Index   int
	Name    string
	Kind    string
	Usable  bool // operationally up with at least one usable address
	Dormant bool // carrier present, waiting on authentication or association
	HasIPv4 bool // holds a global IPv4 address
	HasIPv6 bool // holds a global IPv6 address
}

type defaultRoute struct {
	LinkIndex int
	IPv6      bool
	Priority  int
}

// NetworkManager enum values, see NMMetered and NMConnectivityState.
const (
	nmMeteredUnknown  uint32 = 0
	nmMeteredYes      uint32 = 1
	nmMeteredNo       uint32 = 2
	nmMeteredGuessYes uint32 = 3
	nmMeteredGuessNo  uint32 = 4

	nmConnectivityUnknown uint32 = 0
	nmConnectivityNone    uint32 = 1
	nmConnectivityPortal  uint32 = 2
	nmConnectivityLimited uint32 = 3
	nmConnectivityFull    uint32 = 4
)

type nmState struct {
	Available    bool
	Metered      uint32
	Connectivity uint32
}

type pathInputs struct {
	Links  []linkState
	Routes []defaultRoute
	DNS    bool
	NM     nmState
}

// assemblePath derives the raw path from interface, route and resolver state.
func assemblePath(in pathInputs) path.RawPath {
	byIndex := make(map[int]linkState, len(in.Links))
	for _, l := range in.Links {
		byIndex[l.Index] = l
	}

	routes := slices.Clone(in.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Priority < routes[j].Priority
	})

	var (
		raw     path.RawPath
		primary *linkState
		order   []int
		seen    = make(map[int]struct{})
	)

	for _, r := range routes {
		l, ok := byIndex[r.LinkIndex]
		if !ok || !l.Usable {
			continue
		}

		carries := false
		if r.IPv6 && l.HasIPv6 {
			raw.IPv6 = true
			carries = true
		}
		if !r.IPv6 && l.HasIPv4 {
			raw.IPv4 = true
			carries = true
		}
		if !carries {
			continue
		}

		if primary == nil {
			primary = &l
		}
		if _, dup := seen[l.Index]; !dup {
			seen[l.Index] = struct{}{}
			order = append(order, l.Index)
		}
	}

	rest := make([]linkState, 0, len(in.Links))
	for _, l := range in.Links {
		if _, routed := seen[l.Index]; !routed && l.Usable {
			rest = append(rest, l)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Index < rest[j].Index })
	for _, l := range rest {
		order = append(order, l.Index)
	}

	raw.Interfaces = make([]path.RawInterface, 0, len(order))
	for _, idx := range order {
		l := byIndex[idx]
		raw.Interfaces = append(raw.Interfaces, path.RawInterface{Name: l.Name, Kind: l.Kind})
	}

	routed := raw.IPv4 || raw.IPv6
	switch {
	case in.NM.Available && in.NM.Connectivity == nmConnectivityPortal:
		raw.Status = path.RawRequiresConnection
	case routed:
		raw.Status = path.RawSatisfied
	case hasDormantLink(in.Links):
		raw.Status = path.RawRequiresConnection
	default:
		raw.Status = path.RawUnsatisfied
	}

	raw.DNS = routed && in.DNS

	if primary != nil && primary.Kind == path.KindCellular {
		raw.Expensive = true
	}
	if in.NM.Available {
		switch in.NM.Metered {
		case nmMeteredYes:
			raw.Expensive = true
			raw.Constrained = true
		case nmMeteredGuessYes:
			raw.Expensive = true
		}
	}

	return raw
}

func hasDormantLink(links []linkState) bool {
	for _, l := range links {
		if l.Dormant && l.Kind != path.KindLoopback {
			return true
		}
	}
	return false
}
