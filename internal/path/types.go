package path

import "slices"

// Status is the reachability of the current network path.
type Status int

const (
	Unsatisfied Status = iota
	Satisfied
	RequiresConnection
	StatusUnknown
)

var statusNames = map[Status]string{
	Unsatisfied:        "Unsatisfied",
	Satisfied:          "Satisfied",
	RequiresConnection: "RequiresConnection",
	StatusUnknown:      "Unknown",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by String. Anything else decodes
// to StatusUnknown.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	*s = StatusUnknown
	return nil
}

// InterfaceType classifies the link technology of an interface.
type InterfaceType int

const (
	Other InterfaceType = iota
	WiFi
	Cellular
	WiredEthernet
	Loopback
	InterfaceUnknown
)

var interfaceTypeNames = map[InterfaceType]string{
	Other:            "Other",
	WiFi:             "WiFi",
	Cellular:         "Cellular",
	WiredEthernet:    "WiredEthernet",
	Loopback:         "Loopback",
	InterfaceUnknown: "Unknown",
}

func (t InterfaceType) String() string {
	if name, ok := interfaceTypeNames[t]; ok {
		return name
	}
	return interfaceTypeNames[InterfaceUnknown]
}

func (t InterfaceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *InterfaceType) UnmarshalText(text []byte) error {
	for typ, name := range interfaceTypeNames {
		if name == string(text) {
			*t = typ
			return nil
		}
	}
	*t = InterfaceUnknown
	return nil
}

// Interface is a network interface available to the path. Interfaces are
// identified by name.
type Interface struct {
	Name string        `json:"name" plist:"name"`
	Type InterfaceType `json:"type" plist:"type"`
}

// Snapshot is an immutable point-in-time capture of the path. A new snapshot
// always replaces the previous one as a whole.
type Snapshot struct {
	Status        Status      `json:"status" plist:"status"`
	SupportsIPv4  bool        `json:"supportsIPv4" plist:"supportsIPv4"`
	SupportsIPv6  bool        `json:"supportsIPv6" plist:"supportsIPv6"`
	SupportsDNS   bool        `json:"supportsDNS" plist:"supportsDNS"`
	IsExpensive   bool        `json:"isExpensive" plist:"isExpensive"`
	IsConstrained bool        `json:"isConstrained" plist:"isConstrained"`
	Interfaces    []Interface `json:"interfaces" plist:"interfaces"`
}

// DefaultSnapshot is reported before the first path has been observed.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Status:     Unsatisfied,
		Interfaces: []Interface{},
	}
}

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Interfaces = slices.Clone(s.Interfaces)
	if c.Interfaces == nil {
		c.Interfaces = []Interface{}
	}
	return c
}

// Equal reports whether both snapshots describe the same path.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Status == o.Status &&
		s.SupportsIPv4 == o.SupportsIPv4 &&
		s.SupportsIPv6 == o.SupportsIPv6 &&
		s.SupportsDNS == o.SupportsDNS &&
		s.IsExpensive == o.IsExpensive &&
		s.IsConstrained == o.IsConstrained &&
		slices.Equal(s.Interfaces, o.Interfaces)
}

// Interface looks up an interface by name.
func (s Snapshot) Interface(name string) (Interface, bool) {
	for _, iface := range s.Interfaces {
		if iface.Name == name {
			return iface, true
		}
	}
	return Interface{}, false
}
