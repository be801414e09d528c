package probe

import (
	"context"
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// InterfaceCounters reads octet counters of a local network interface. An
// empty Name sums all interfaces.
type InterfaceCounters struct {
	Name string
}

func (c InterfaceCounters) Width() uint {
	return 64
}

func (c InterfaceCounters) ReadOctets(ctx context.Context) (Octets, error) {
	stats, err := psnet.IOCountersWithContext(ctx, c.Name != "")
	if err != nil {
		return Octets{}, fmt.Errorf("interface counters: %w", err)
	}

	for _, st := range stats {
		if c.Name == "" || st.Name == c.Name {
			return Octets{In: st.BytesRecv, Out: st.BytesSent}, nil
		}
	}
	return Octets{}, fmt.Errorf("interface %q: %w", c.Name, ErrNotFound)
}
