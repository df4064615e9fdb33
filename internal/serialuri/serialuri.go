// Package serialuri converts filesystem paths to and from "serial URIs":
// stable identifiers of the form serial:<partition-id>/<path-within-partition>
// that survive a partition being remounted at a different mount point.
package serialuri

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
)

// synthNamespace seeds deterministic synthetic partition ids (via
// uuid.NewSHA1) for devices that expose neither a UUID nor a label, so the
// same device always maps to the same id across process restarts.
var synthNamespace = uuid.MustParse("2f3c9b0e-6b8b-4c0a-9e9a-9a3f9b6c9d1a")

// PartitionLister abstracts disk.Partitions for testability.
type PartitionLister func(all bool) ([]disk.PartitionStat, error)

var defaultLister PartitionLister = disk.Partitions

// ToSerialURI locates the mounted partition containing path and returns
// "serial:<id>/<path-within-partition>". It returns an empty string (no
// error) when path matches no known partition, e.g. on a virtual
// filesystem that gopsutil does not enumerate.
func ToSerialURI(path string) (string, error) {
	return toSerialURI(path, defaultLister)
}

func toSerialURI(path string, lister PartitionLister) (string, error) {
	parts, err := lister(true)
	if err != nil {
		return "", errors.Wrap(err, "list mounted partitions")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "resolve absolute path")
	}

	// Longest matching mount point wins, same tie-break df(1) and similar
	// tools use when several partitions are mounted one under another.
	best := -1
	bestLen := -1
	for i, p := range parts {
		mp := strings.TrimSuffix(p.Mountpoint, "/")
		if mp != "" && abs != mp && !strings.HasPrefix(abs, mp+"/") {
			continue
		}
		if len(mp) > bestLen {
			best = i
			bestLen = len(mp)
		}
	}
	if best < 0 {
		return "", nil
	}

	part := parts[best]
	id := partitionID(part)
	rel := strings.TrimPrefix(abs, strings.TrimSuffix(part.Mountpoint, "/"))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "serial:" + id, nil
	}
	return "serial:" + id + "/" + rel, nil
}

// FromSerialURI enumerates every current mount path of the partition named
// by uri, returning the lowest-lexicographic one first (the canonical
// alias). It returns an empty slice if the partition is not currently
// mounted.
func FromSerialURI(uri string) ([]string, error) {
	return fromSerialURI(uri, defaultLister)
}

func fromSerialURI(uri string, lister PartitionLister) ([]string, error) {
	id, rel, ok := parseSerialURI(uri)
	if !ok {
		return nil, errors.Errorf("not a serial URI: %s", uri)
	}

	parts, err := lister(true)
	if err != nil {
		return nil, errors.Wrap(err, "list mounted partitions")
	}

	var mounts []string
	for _, p := range parts {
		if partitionID(p) != id {
			continue
		}
		mp := strings.TrimSuffix(p.Mountpoint, "/")
		if rel == "" {
			mounts = append(mounts, orRoot(mp))
			continue
		}
		mounts = append(mounts, orRoot(mp)+"/"+rel)
	}
	sort.Strings(mounts)
	return mounts, nil
}

func orRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func parseSerialURI(uri string) (id, rel string, ok bool) {
	const prefix = "serial:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := uri[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i+1:], true
	}
	return rest, "", true
}

// partitionID prefers the partition's UUID (as reported in its mount
// options, which is how gopsutil surfaces it on Linux via /proc/self/mountinfo
// and blkid fallbacks), then its label, then a deterministic synthetic id
// derived from the device path.
func partitionID(p disk.PartitionStat) string {
	if uuidOpt := mountOpt(p.Opts, "uuid"); uuidOpt != "" {
		return uuidOpt
	}
	if label := mountOpt(p.Opts, "label"); label != "" {
		return label
	}
	return uuid.NewSHA1(synthNamespace, []byte(p.Device)).String()
}

func mountOpt(opts []string, key string) string {
	prefix := key + "="
	for _, o := range opts {
		if strings.HasPrefix(strings.ToLower(o), prefix) {
			return o[len(prefix):]
		}
	}
	return ""
}
