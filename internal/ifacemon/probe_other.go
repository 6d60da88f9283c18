//go:build !linux

package ifacemon

import (
	"context"

	"github.com/rescale/transferd/internal/record"
)

// SysfsProbe is a no-op stand-in on platforms without /sys/class/net;
// everything reports unknown until a platform-specific probe is added.
type SysfsProbe struct {
	WiredIface string
	WifiIface  string
	WanIface   string
	BtpanIface string
}

func (p *SysfsProbe) Probe(ctx context.Context) (map[record.InterfaceName]Status, record.WANSubType, error) {
	return map[record.InterfaceName]Status{
		record.Wired: StatusUnknown,
		record.Wifi:  StatusUnknown,
		record.Wan:   StatusUnknown,
		record.Btpan: StatusUnknown,
	}, record.WANUnknown, nil
}
