package persist

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// CatalogEntry is one row of the supplemental catalog: a queryable summary
// of an indexed root, listable through All without opening every cache
// file. The catalog is diagnostic data, never a second source of truth —
// the authoritative state is always the cache files themselves plus the
// in-memory manager. The manager writes a row when a build completes and
// deletes it in RemovePath; nothing reconciles the catalog with the cache
// directory.
type CatalogEntry struct {
	RootPath     string
	SerialURI    string
	CacheFile    string
	Auto         bool
	LastBuilt    time.Time
	RecordsCount uint32
}

// Catalog wraps a bbolt database file recording CatalogEntry rows.
type Catalog struct {
	db *bolt.DB
}

// OpenCatalog opens (creating if needed) dir/catalog.db.
func OpenCatalog(dir string) (*Catalog, error) {
	path := filepath.Join(dir, "catalog.db")
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open catalog.db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create catalog bucket")
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying bbolt database.
func (c *Catalog) Close() error { return c.db.Close() }

// Put upserts entry, keyed by its root path.
func (c *Catalog) Put(entry CatalogEntry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		data, err := encodeCatalogEntry(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.RootPath), data)
	})
}

// Delete removes the catalog entry for rootPath, if any.
func (c *Catalog) Delete(rootPath string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(rootPath))
	})
}

// All returns every catalog entry, for diagnostics and `all_path`-style
// fast paths; the manager itself remains the source of truth if the two
// ever disagree.
func (c *Catalog) All() ([]CatalogEntry, error) {
	var out []CatalogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		return b.ForEach(func(k, v []byte) error {
			entry, err := decodeCatalogEntry(v)
			if err != nil {
				return err
			}
			out = append(out, entry)
			return nil
		})
	})
	return out, err
}

func encodeCatalogEntry(e CatalogEntry) ([]byte, error) {
	return json.Marshal(&e)
}

func decodeCatalogEntry(data []byte) (CatalogEntry, error) {
	var e CatalogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return CatalogEntry{}, errors.Wrap(err, "unmarshal catalog entry")
	}
	return e, nil
}
