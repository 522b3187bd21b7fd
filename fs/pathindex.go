package fs

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/hanyunqi/faststore/cmn"
	"github.com/sdomino/scribble"
)

const pathIndexCollection = "path_index"

// pathIndexRecord is the persisted form of one configured path's identity
// (spec §6 on-disk layout: "storage/store_path.index - persistent
// path-to-index mapping (generation counter)").
type pathIndexRecord struct {
	Root       string `json:"root"`
	Index      int    `json:"index"`
	Generation int    `json:"generation"`
}

// PathIndexStore durably maps each configured store/write-cache path's
// root directory to a stable numeric index, so index.TrunkSpace.PathIndex
// values written into the object-block index and binlog survive a restart
// even if storage.conf lists the same paths in a different order next
// time. Generation starts at 0 and is incremented only by Retire, to tell
// a reused path slot apart from its predecessor for any stale in-flight
// references; Resolve never changes it.
//
// Backed by the same github.com/sdomino/scribble driver fs.Registry uses,
// under its own collection in the "storage" directory.
type PathIndexStore struct {
	mu     sync.Mutex
	driver *scribble.Driver
}

// NewPathIndexStore opens (or creates) the path-index collection under
// dataPath/storage, the same directory fs.Registry's trunk-id ledger
// lives in.
func NewPathIndexStore(dataPath string) (*PathIndexStore, error) {
	driver, err := scribble.New(filepath.Join(dataPath, "storage"), nil)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrIO, "open path-index store", err)
	}
	return &PathIndexStore{driver: driver}, nil
}

// Resolve returns root's stable path index, assigning and persisting the
// next unused index (generation 0) the first time root is seen.
func (s *PathIndexStore) Resolve(root string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadAllLocked()
	if err != nil {
		return 0, err
	}
	if rec, ok := records[root]; ok {
		return rec.Index, nil
	}

	next := 0
	for _, rec := range records {
		if rec.Index >= next {
			next = rec.Index + 1
		}
	}
	rec := pathIndexRecord{Root: root, Index: next, Generation: 0}
	if err := s.driver.Write(pathIndexCollection, rec.Root, rec); err != nil {
		return 0, cmn.WrapError(cmn.ErrIO, "persist path index", err)
	}
	return next, nil
}

// Retire bumps root's generation counter without changing its index -
// called when a configured path is dropped from storage.conf and later
// reintroduced, so anything still referencing the old generation can be
// told apart from fresh allocations under the reused index.
func (s *PathIndexStore) Retire(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadAllLocked()
	if err != nil {
		return err
	}
	rec, ok := records[root]
	if !ok {
		return nil
	}
	rec.Generation++
	if err := s.driver.Write(pathIndexCollection, rec.Root, rec); err != nil {
		return cmn.WrapError(cmn.ErrIO, "persist path index retirement", err)
	}
	return nil
}

// All returns every known (root, index, generation) record sorted by
// index, for admin tooling (storectl) to display.
func (s *PathIndexStore) All() ([]pathIndexRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadAllLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pathIndexRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *PathIndexStore) loadAllLocked() (map[string]pathIndexRecord, error) {
	raw, err := s.driver.ReadAll(pathIndexCollection)
	if err != nil {
		// A brand new data path has no path_index collection yet.
		return map[string]pathIndexRecord{}, nil
	}
	out := map[string]pathIndexRecord{}
	for _, blob := range raw {
		var rec pathIndexRecord
		if jerr := unmarshalRecord(blob, &rec); jerr != nil {
			return nil, cmn.WrapError(cmn.ErrIO, "corrupt path index entry", jerr)
		}
		out[rec.Root] = rec
	}
	return out, nil
}
