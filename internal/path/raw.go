package path

// Status codes reported by platform watchers.
const (
	RawSatisfied          = "satisfied"
	RawUnsatisfied        = "unsatisfied"
	RawRequiresConnection = "requires-connection"
)

// Interface kinds reported by platform watchers.
const (
	KindOther    = "other"
	KindWiFi     = "wifi"
	KindCellular = "cellular"
	KindEther    = "ether"
	KindLoopback = "loopback"
)

// RawPath is a path as the platform reports it, before translation. Status
// and Kind values outside the constants above are legal and mean the
// platform knows something this package does not.
type RawPath struct {
	Status      string
	IPv4        bool
	IPv6        bool
	DNS         bool
	Expensive   bool
	Constrained bool
	Interfaces  []RawInterface
}

type RawInterface struct {
	Name string
	Kind string
}

var rawStatuses = map[string]Status{
	RawSatisfied:          Satisfied,
	RawUnsatisfied:        Unsatisfied,
	RawRequiresConnection: RequiresConnection,
}

var rawKinds = map[string]InterfaceType{
	KindOther:    Other,
	KindWiFi:     WiFi,
	KindCellular: Cellular,
	KindEther:    WiredEthernet,
	KindLoopback: Loopback,
}

// TranslateStatus maps a raw status code. Unrecognised codes map to
// StatusUnknown.
func TranslateStatus(code string) Status {
	if s, ok := rawStatuses[code]; ok {
		return s
	}
	return StatusUnknown
}

// TranslateKind maps a raw interface kind. Unrecognised kinds map to
// InterfaceUnknown.
func TranslateKind(kind string) InterfaceType {
	if t, ok := rawKinds[kind]; ok {
		return t
	}
	return InterfaceUnknown
}

// Translate converts a raw path into a Snapshot. It never fails.
func Translate(raw RawPath) Snapshot {
	ifaces := make([]Interface, 0, len(raw.Interfaces))
	for _, ri := range raw.Interfaces {
		ifaces = append(ifaces, Interface{Name: ri.Name, Type: TranslateKind(ri.Kind)})
	}

	return Snapshot{
		Status:        TranslateStatus(raw.Status),
		SupportsIPv4:  raw.IPv4,
		SupportsIPv6:  raw.IPv6,
		SupportsDNS:   raw.DNS,
		IsExpensive:   raw.Expensive,
		IsConstrained: raw.Constrained,
		Interfaces:    ifaces,
	}
}

// Equal reports whether two raw paths are identical, interface order included.
func (r RawPath) Equal(o RawPath) bool {
	if r.Status != o.Status || r.IPv4 != o.IPv4 || r.IPv6 != o.IPv6 || r.DNS != o.DNS ||
		r.Expensive != o.Expensive || r.Constrained != o.Constrained ||
		len(r.Interfaces) != len(o.Interfaces) {
		return false
	}
	for i := range r.Interfaces {
		if r.Interfaces[i] != o.Interfaces[i] {
			return false
		}
	}
	return true
}
