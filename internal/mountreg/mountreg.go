// Package mountreg watches the set of mounted block-device filesystems and
// emits add/remove events to the index manager, in the style of the
// ticker-driven renewal loops found throughout the pack's backend
// connectors (e.g. a token renewer that polls on a fixed interval and
// exits cleanly when told to shut down).
package mountreg

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

// EventKind distinguishes the four event kinds spec.md §4.4 defines.
type EventKind int

const (
	MountAdded EventKind = iota
	MountRemoved
	FilesystemAdded
	FilesystemRemoved
)

func (k EventKind) String() string {
	switch k {
	case MountAdded:
		return "MountAdded"
	case MountRemoved:
		return "MountRemoved"
	case FilesystemAdded:
		return "FilesystemAdded"
	case FilesystemRemoved:
		return "FilesystemRemoved"
	default:
		return "Unknown"
	}
}

// Event is one mount-registry notification.
type Event struct {
	Kind      EventKind
	Device    string
	MountPath string // unset for FilesystemAdded/FilesystemRemoved
	Removable bool
}

// loopDevicePrefixes lists device name prefixes never reported as
// auto-indexable, per spec.md §4.4's "loop devices are filtered out".
var loopDevicePrefixes = []string{"/dev/loop", "/dev/zram"}

// Registry polls the mounted partition table and diffs it against the
// previously observed state to synthesize events.
type Registry struct {
	interval time.Duration
	log      *logrus.Entry
	lister   func(all bool) ([]disk.PartitionStat, error)

	mu      sync.Mutex
	mounts  map[string]string // device -> mount path, one entry per mount
	devices map[string]bool   // known device set (for FilesystemAdded/Removed)

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// New creates a Registry that polls every interval. Call Run to start the
// background poll loop and Close to stop it.
func New(interval time.Duration, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		interval: interval,
		log:      log,
		lister:   disk.Partitions,
		mounts:   make(map[string]string),
		devices:  make(map[string]bool),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Events returns the channel events are published on. The caller must
// drain it; Run drops events (logging a warning) if the channel is full,
// the same backpressure behavior the pack's cache poller leans on rather
// than blocking the poll goroutine indefinitely.
func (r *Registry) Events() <-chan Event { return r.events }

// Run polls once immediately and then every interval, blocking the calling
// goroutine until Close is called or stop is closed.
func (r *Registry) Run(stop <-chan struct{}) {
	r.poll()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.poll()
		case <-stop:
			return
		case <-r.done:
			return
		}
	}
}

// Close stops a running Registry.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Registry) poll() {
	parts, err := r.lister(true)
	if err != nil {
		r.log.WithError(err).Warn("failed to list mounted partitions")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seenMounts := make(map[string]string, len(parts))
	seenDevices := make(map[string]bool, len(parts))
	for _, p := range parts {
		if isLoopDevice(p.Device) {
			continue
		}
		seenDevices[p.Device] = true
		seenMounts[mountKey(p.Device, p.Mountpoint)] = p.Device
	}

	for dev := range seenDevices {
		if !r.devices[dev] {
			r.emit(Event{Kind: FilesystemAdded, Device: dev, Removable: isRemovable(dev)})
		}
	}
	for dev := range r.devices {
		if !seenDevices[dev] {
			r.emit(Event{Kind: FilesystemRemoved, Device: dev, Removable: isRemovable(dev)})
		}
	}

	for key, dev := range seenMounts {
		if _, ok := r.mounts[key]; !ok {
			r.emit(Event{Kind: MountAdded, Device: dev, MountPath: mountPathOf(key), Removable: isRemovable(dev)})
		}
	}
	for key, dev := range r.mounts {
		if _, ok := seenMounts[key]; !ok {
			r.emit(Event{Kind: MountRemoved, Device: dev, MountPath: mountPathOf(key), Removable: isRemovable(dev)})
		}
	}

	r.mounts = seenMounts
	r.devices = seenDevices
}

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.log.WithField("event", ev.Kind.String()).Warn("mount event dropped, subscriber too slow")
	}
}

func mountKey(device, mountpoint string) string { return device + "\x00" + mountpoint }

func mountPathOf(key string) string {
	if i := strings.IndexByte(key, '\x00'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isLoopDevice(device string) bool {
	for _, p := range loopDevicePrefixes {
		if strings.HasPrefix(device, p) {
			return true
		}
	}
	return false
}

// isRemovable reports whether device's parent block device is marked
// removable in sysfs (e.g. USB storage), falling back to false (internal)
// if sysfs does not expose the attribute — virtual and network block
// devices, and any non-Linux platform.
func isRemovable(device string) bool {
	name := strings.TrimPrefix(device, "/dev/")
	for len(name) > 0 {
		last := name[len(name)-1]
		if last < '0' || last > '9' {
			break
		}
		name = name[:len(name)-1]
	}
	data, err := os.ReadFile("/sys/block/" + name + "/removable")
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return err == nil && n != 0
}
