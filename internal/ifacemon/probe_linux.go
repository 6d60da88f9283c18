//go:build linux

package ifacemon

import (
	"context"
	"os"
	"strings"

	"github.com/rescale/transferd/internal/record"
)

// SysfsProbe reads /sys/class/net/<iface>/operstate for each configured
// interface name. It is the default Probe wired in cmd/transferd on Linux.
type SysfsProbe struct {
	WiredIface string
	WifiIface  string
	WanIface   string
	BtpanIface string
}

func (p *SysfsProbe) Probe(ctx context.Context) (map[record.InterfaceName]Status, record.WANSubType, error) {
	out := map[record.InterfaceName]Status{
		record.Wired: p.readOperstate(p.WiredIface),
		record.Wifi:  p.readOperstate(p.WifiIface),
		record.Wan:   p.readOperstate(p.WanIface),
		record.Btpan: p.readOperstate(p.BtpanIface),
	}
	return out, record.WANUnknown, nil
}

func (p *SysfsProbe) readOperstate(iface string) Status {
	if iface == "" {
		return StatusUnknown
	}
	data, err := os.ReadFile("/sys/class/net/" + iface + "/operstate")
	if err != nil {
		return StatusUnknown
	}
	switch strings.TrimSpace(string(data)) {
	case "up":
		return StatusConnected
	case "down":
		return StatusDisconnected
	default:
		return StatusUnknown
	}
}
