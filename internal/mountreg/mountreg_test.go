package mountreg

import (
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, r *Registry, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestPollEmitsAddedEvents(t *testing.T) {
	r := New(time.Hour, nil)
	r.lister = func(all bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sdb1", Mountpoint: "/mnt/usb"},
		}, nil
	}
	r.poll()

	events := drain(t, r, 2)
	kinds := map[EventKind]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	require.True(t, kinds[FilesystemAdded])
	require.True(t, kinds[MountAdded])
}

func TestPollFiltersLoopDevices(t *testing.T) {
	r := New(time.Hour, nil)
	r.lister = func(all bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/loop0", Mountpoint: "/snap/core/1"},
		}, nil
	}
	r.poll()

	select {
	case ev := <-r.Events():
		t.Fatalf("expected no events for a loop device, got %v", ev)
	default:
	}
}

func TestPollEmitsRemovedOnDisappearance(t *testing.T) {
	r := New(time.Hour, nil)
	present := true
	r.lister = func(all bool) ([]disk.PartitionStat, error) {
		if !present {
			return nil, nil
		}
		return []disk.PartitionStat{{Device: "/dev/sdb1", Mountpoint: "/mnt/usb"}}, nil
	}
	r.poll()
	drain(t, r, 2) // FilesystemAdded + MountAdded

	present = false
	r.poll()
	events := drain(t, r, 2)
	kinds := map[EventKind]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	require.True(t, kinds[FilesystemRemoved])
	require.True(t, kinds[MountRemoved])
}
