package path

type ChangeType string

const (
	StatusChanged       ChangeType = "STATUS_CHANGED"
	CapabilitiesChanged ChangeType = "CAPABILITIES_CHANGED"
	InterfaceAdded      ChangeType = "INTERFACE_ADDED"
	InterfaceRemoved    ChangeType = "INTERFACE_REMOVED"
)

// Change describes one difference between two snapshots. InterfaceName is
// only set for interface changes.
type Change struct {
	Type          ChangeType
	InterfaceName string
	InterfaceType InterfaceType
}

// Diff lists what changed from old to cur. Interfaces whose type changed
// are reported as removed and re-added.
func Diff(old, cur Snapshot) []Change {
	var changes []Change

	if old.Status != cur.Status {
		changes = append(changes, Change{Type: StatusChanged})
	}

	if old.SupportsIPv4 != cur.SupportsIPv4 ||
		old.SupportsIPv6 != cur.SupportsIPv6 ||
		old.SupportsDNS != cur.SupportsDNS ||
		old.IsExpensive != cur.IsExpensive ||
		old.IsConstrained != cur.IsConstrained {
		changes = append(changes, Change{Type: CapabilitiesChanged})
	}

	for _, iface := range old.Interfaces {
		if now, ok := cur.Interface(iface.Name); !ok || now.Type != iface.Type {
			changes = append(changes, Change{Type: InterfaceRemoved, InterfaceName: iface.Name, InterfaceType: iface.Type})
		}
	}
	for _, iface := range cur.Interfaces {
		if was, ok := old.Interface(iface.Name); !ok || was.Type != iface.Type {
			changes = append(changes, Change{Type: InterfaceAdded, InterfaceName: iface.Name, InterfaceType: iface.Type})
		}
	}

	return changes
}
