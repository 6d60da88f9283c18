package ifacemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rescale/transferd/internal/record"
)

type fakeProbe struct {
	mu    sync.Mutex
	queue []map[record.InterfaceName]Status
}

func (f *fakeProbe) push(s map[record.InterfaceName]Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, s)
}

func (f *fakeProbe) Probe(ctx context.Context) (map[record.InterfaceName]Status, record.WANSubType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return map[record.InterfaceName]Status{
			record.Wired: StatusDisconnected,
			record.Wifi:  StatusDisconnected,
			record.Wan:   StatusDisconnected,
			record.Btpan: StatusDisconnected,
		}, record.WANUnknown, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next, record.WANUnknown, nil
}

func TestWiredOverridesWifiAndWan(t *testing.T) {
	resolved := resolvePrecedence(map[record.InterfaceName]Status{
		record.Wired: StatusConnected,
		record.Wifi:  StatusConnected,
		record.Wan:   StatusConnected,
		record.Btpan: StatusConnected,
	})

	if resolved[record.Wired] != StatusConnected {
		t.Errorf("wired = %q, want connected", resolved[record.Wired])
	}
	if resolved[record.Wifi] != StatusDisconnected {
		t.Errorf("wifi = %q, want disconnected (overridden by wired)", resolved[record.Wifi])
	}
	if resolved[record.Wan] != StatusDisconnected {
		t.Errorf("wan = %q, want disconnected (overridden by wired)", resolved[record.Wan])
	}
	if resolved[record.Btpan] != StatusConnected {
		t.Errorf("btpan = %q, want connected (never overridden)", resolved[record.Btpan])
	}
}

func TestWifiOverridesWanWhenWiredDown(t *testing.T) {
	resolved := resolvePrecedence(map[record.InterfaceName]Status{
		record.Wired: StatusDisconnected,
		record.Wifi:  StatusConnected,
		record.Wan:   StatusConnected,
		record.Btpan: StatusDisconnected,
	})

	if resolved[record.Wifi] != StatusConnected {
		t.Errorf("wifi = %q, want connected", resolved[record.Wifi])
	}
	if resolved[record.Wan] != StatusDisconnected {
		t.Errorf("wan = %q, want disconnected (overridden by wifi)", resolved[record.Wan])
	}
}

func TestEmitsUpAndDownEdges(t *testing.T) {
	probe := &fakeProbe{}
	probe.push(map[record.InterfaceName]Status{
		record.Wired: StatusDisconnected, record.Wifi: StatusDisconnected,
		record.Wan: StatusDisconnected, record.Btpan: StatusDisconnected,
	})
	probe.push(map[record.InterfaceName]Status{
		record.Wired: StatusConnected, record.Wifi: StatusDisconnected,
		record.Wan: StatusDisconnected, record.Btpan: StatusDisconnected,
	})
	probe.push(map[record.InterfaceName]Status{
		record.Wired: StatusDisconnected, record.Wifi: StatusDisconnected,
		record.Wan: StatusDisconnected, record.Btpan: StatusDisconnected,
	})

	m := New(probe, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	var got []Edge
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-m.Edges():
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out waiting for edges, got %d so far", len(got))
		}
	}

	if got[0].Kind != WiredUp || !got[0].Up {
		t.Errorf("edge[0] = %+v, want WiredUp", got[0])
	}
	if got[1].Kind != WiredDown || got[1].Up {
		t.Errorf("edge[1] = %+v, want WiredDown", got[1])
	}
}

func TestAllDisconnected(t *testing.T) {
	probe := &fakeProbe{}
	m := New(probe, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	if !m.AllDisconnected() {
		t.Error("expected AllDisconnected() true when probe reports everything down")
	}
}
