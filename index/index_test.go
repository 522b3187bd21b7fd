package index

import "testing"

type fakeAllocator struct {
	added, deleted int
}

func (f *fakeAllocator) AddSlice(s *SliceEntry) error    { f.added++; return nil }
func (f *fakeAllocator) DeleteSlice(s *SliceEntry) error { f.deleted++; return nil }

func space(off int64, size int64) TrunkSpace {
	return TrunkSpace{PathIndex: 0, TrunkID: 1, Subdir: 0, Offset: off, Size: size}
}

func TestRoundTrip(t *testing.T) {
	alloc := &fakeAllocator{}
	idx := New(1024, 8, alloc)
	bkey := BlockKey{OID: 7, Offset: 0}

	if err := idx.AddSlice(bkey, SliceSize{0, 4096}, space(0, 4096)); err != nil {
		t.Fatalf("AddSlice: %v", err)
	}

	got, err := idx.GetSlices(bkey, SliceSize{0, 4096})
	if err != nil {
		t.Fatalf("GetSlices: %v", err)
	}
	if len(got) != 1 || got[0].SSize != (SliceSize{0, 4096}) {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestOverwriteSplitsSlices(t *testing.T) {
	alloc := &fakeAllocator{}
	idx := New(1024, 8, alloc)
	bkey := BlockKey{OID: 7, Offset: 0}

	if err := idx.AddSlice(bkey, SliceSize{0, 4096}, space(0, 4096)); err != nil {
		t.Fatalf("AddSlice #1: %v", err)
	}
	if err := idx.AddSlice(bkey, SliceSize{1000, 2000}, space(5000, 2000)); err != nil {
		t.Fatalf("AddSlice #2: %v", err)
	}

	got, err := idx.GetSlices(bkey, SliceSize{0, 4096})
	if err != nil {
		t.Fatalf("GetSlices: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 slices, got %d: %+v", len(got), got)
	}
	want := []SliceSize{{0, 1000}, {1000, 2000}, {3000, 1096}}
	for i, w := range want {
		if got[i].SSize != w {
			t.Errorf("slice %d: want %+v, got %+v", i, w, got[i].SSize)
		}
	}
	if got[0].Space.Offset != 0 || got[2].Space.Offset != 0 {
		t.Errorf("trimmed ends should still point at the original trunk space: %+v / %+v", got[0].Space, got[2].Space)
	}
	if got[1].Space.Offset != 5000 {
		t.Errorf("middle slice should point at the new trunk space, got %+v", got[1].Space)
	}
}

func TestFullOverwriteRemovesAllPriorSlices(t *testing.T) {
	alloc := &fakeAllocator{}
	idx := New(1024, 8, alloc)
	bkey := BlockKey{OID: 7, Offset: 0}

	idx.AddSlice(bkey, SliceSize{0, 4096}, space(0, 4096))
	idx.AddSlice(bkey, SliceSize{1000, 2000}, space(5000, 2000))
	if err := idx.AddSlice(bkey, SliceSize{0, 4096}, space(9000, 4096)); err != nil {
		t.Fatalf("AddSlice #3: %v", err)
	}

	got, err := idx.GetSlices(bkey, SliceSize{0, 4096})
	if err != nil {
		t.Fatalf("GetSlices: %v", err)
	}
	if len(got) != 1 || got[0].Space.Offset != 9000 {
		t.Fatalf("expected single fresh slice, got %+v", got)
	}
}

func TestGetSlicesNotFound(t *testing.T) {
	idx := New(1024, 8, &fakeAllocator{})
	_, err := idx.GetSlices(BlockKey{OID: 1}, SliceSize{0, 100})
	if !isNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func isNotFound(err error) bool {
	type kinder interface{ Error() string }
	_ = kinder(nil)
	return err != nil && err.Error()[:9] == "NOT_FOUND"
}

func TestFreeSliceIdempotent(t *testing.T) {
	idx := New(1024, 8, &fakeAllocator{})
	bkey := BlockKey{OID: 1}
	idx.AddSlice(bkey, SliceSize{0, 100}, space(0, 100))
	got, err := idx.GetSlices(bkey, SliceSize{0, 100})
	if err != nil {
		t.Fatal(err)
	}
	s := got[0]
	idx.FreeSlice(s)
	idx.FreeSlice(s)
	idx.FreeSlice(s)
	if s.RefCount.Load() < 0 {
		t.Fatalf("ref count went negative: %d", s.RefCount.Load())
	}
}
