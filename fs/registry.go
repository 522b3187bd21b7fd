package fs

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hanyunqi/faststore/cmn"
	"github.com/sdomino/scribble"
)

const trunkRegistryCollection = "trunk_ids"

// TrunkID identifies one trunk file: <store-path>/<subdir>/<id>.
type TrunkID struct {
	Subdir uint32
	ID     uint64
}

// trunkRecord is the persisted form of a registry entry (spec §4.A).
type trunkRecord struct {
	PathIndex int    `json:"path_index"`
	Subdir    uint32 `json:"subdir"`
	TrunkID   uint64 `json:"trunk_id"`
}

func (r trunkRecord) key() string {
	return fmt.Sprintf("%d-%d-%d", r.PathIndex, r.Subdir, r.TrunkID)
}

// Registry is the persistent, durable-before-use record of every
// (path-index, subdir, trunk-id) tuple currently allocatable. It is the
// crash-recovery source of truth: a trunk file present on disk but absent
// from the registry is garbage; one registered but missing on disk is a
// fatal inconsistency (spec §4.A contract). LoadOnStart and
// EnumerateForPath return the registered set; nothing in this package
// compares it against the files on disk.
//
// Backed by github.com/sdomino/scribble, the same tiny JSON-file database
// the teacher uses for the downloader's job-tracking store
// (downloader/db.go) - adapted here to a write-ahead-of-allocation ledger
// instead of job bookkeeping.
type Registry struct {
	mu     sync.Mutex
	driver *scribble.Driver
}

func NewRegistry(dataPath string) (*Registry, error) {
	driver, err := scribble.New(filepath.Join(dataPath, "storage"), nil)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrIO, "open trunk-id registry", err)
	}
	return &Registry{driver: driver}, nil
}

// Add durably records a trunk as allocatable. Per the §4.A contract, the
// caller MUST NOT treat the trunk file as allocatable until this returns.
func (r *Registry) Add(pathIndex int, id TrunkID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := trunkRecord{PathIndex: pathIndex, Subdir: id.Subdir, TrunkID: id.ID}
	if err := r.driver.Write(trunkRegistryCollection, rec.key(), rec); err != nil {
		return cmn.WrapError(cmn.ErrIO, "persist trunk-id registration", err)
	}
	return nil
}

// Delete durably removes a registration. Per the §4.A contract, the caller
// MUST NOT unlink the underlying trunk file until this returns.
func (r *Registry) Delete(pathIndex int, id TrunkID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := trunkRecord{PathIndex: pathIndex, Subdir: id.Subdir, TrunkID: id.ID}
	if err := r.driver.Delete(trunkRegistryCollection, rec.key()); err != nil {
		return cmn.WrapError(cmn.ErrIO, "delete trunk-id registration", err)
	}
	return nil
}

// LoadOnStart returns every registered trunk, grouped by path index, for
// reconciliation against what's actually present on disk at startup.
func (r *Registry) LoadOnStart() (map[int][]TrunkID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := r.driver.ReadAll(trunkRegistryCollection)
	if err != nil {
		// An empty/never-written collection is not an error: a brand new
		// data path legitimately has zero registered trunks.
		return map[int][]TrunkID{}, nil
	}
	out := map[int][]TrunkID{}
	for _, blob := range raw {
		var rec trunkRecord
		if jerr := unmarshalRecord(blob, &rec); jerr != nil {
			return nil, cmn.WrapError(cmn.ErrIO, "corrupt trunk-id registry entry", jerr)
		}
		out[rec.PathIndex] = append(out[rec.PathIndex], TrunkID{Subdir: rec.Subdir, ID: rec.TrunkID})
	}
	return out, nil
}

// EnumerateForPath returns the registered trunk IDs for one store path.
func (r *Registry) EnumerateForPath(pathIndex int) ([]TrunkID, error) {
	all, err := r.LoadOnStart()
	if err != nil {
		return nil, err
	}
	return all[pathIndex], nil
}
