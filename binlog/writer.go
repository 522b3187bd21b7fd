package binlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/hanyunqi/faststore/cmn"
	"github.com/hanyunqi/faststore/stats"
)

// OrderMode selects one of the two delivery disciplines spec §4.E names.
type OrderMode int

const (
	OrderByNone OrderMode = iota
	OrderByVersion
)

func fileName(index int) string {
	return fmt.Sprintf("binlog.%06d", index)
}

// Writer is a single rotating binlog for one subdir. Producers call Submit
// from any goroutine; a single internal drain goroutine owns the current
// file and, in OrderByVersion mode, the reorder ring - matching the
// original's single dedicated writer thread draining a multi-producer
// queue (spec §4.E).
type Writer struct {
	dir       string
	subdir    string
	maxSize   int64
	mode      OrderMode
	ringSize  uint64
	queue     chan Record
	done      chan struct{}
	closeOnce sync.Once
	metrics   *stats.Registry

	// drain-goroutine-owned state; never touched from Submit.
	curFile  *os.File
	curIndex int
	curSize  int64
	next     uint64
	ring     map[uint64]Record
}

// NewWriter opens dir (a subdir already containing zero or more
// binlog.NNNNNN files) for appending, resuming at the highest-indexed file
// after running RecoverLastFile on it.
func NewWriter(dir string, maxSize int64, mode OrderMode, ringSize uint64, metrics *stats.Registry) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cmn.WrapError(cmn.ErrIO, "mkdir binlog dir", err)
	}
	idx, err := RecoverLastFile(dir)
	if err != nil {
		return nil, err
	}
	f, size, err := openForAppend(dir, idx)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		dir:      dir,
		subdir:   filepath.Base(dir),
		maxSize:  maxSize,
		mode:     mode,
		ringSize: ringSize,
		queue:    make(chan Record, 256),
		done:     make(chan struct{}),
		curFile:  f,
		curIndex: idx,
		curSize:  size,
		next:     1, // versions start at 1
		ring:     map[uint64]Record{},
		metrics:  metrics,
	}
	go w.run()
	return w, nil
}

func openForAppend(dir string, idx int) (*os.File, int64, error) {
	path := filepath.Join(dir, fileName(idx))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, cmn.WrapError(cmn.ErrIO, "open binlog file", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, cmn.WrapError(cmn.ErrIO, "stat binlog file", err)
	}
	return f, st.Size(), nil
}

// Submit enqueues a record for the drain goroutine. In OrderByNone mode
// Version is ignored. Submit never blocks on disk I/O itself.
func (w *Writer) Submit(r Record) {
	w.queue <- r
}

// Close stops the drain goroutine and flushes/closes the current file.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

func (w *Writer) run() {
	for {
		select {
		case <-w.done:
			// write whatever was submitted before Close, then close the file
			for {
				select {
				case r := <-w.queue:
					if w.mode == OrderByNone {
						w.appendRecord(r)
					} else {
						w.submitVersioned(r)
					}
					continue
				default:
				}
				break
			}
			w.curFile.Close()
			return
		case r := <-w.queue:
			if w.mode == OrderByNone {
				w.appendRecord(r)
				continue
			}
			w.submitVersioned(r)
		}
	}
}

// submitVersioned implements order-by-version's contiguous-drain
// discipline (spec §4.E invariant I4): a record whose version is already
// past is a duplicate and dropped; one at the front writes immediately and
// then drains however much of the ring is now contiguous; anything further
// ahead parks in the ring until its turn, unless it has outrun the ring
// entirely, which is a fatal producer contract violation.
func (w *Writer) submitVersioned(r Record) {
	switch {
	case r.Version < w.next:
		return // already written; duplicate delivery
	case r.Version == w.next:
		w.appendRecord(r)
		w.next++
		for {
			slot := w.next % w.ringSize
			parked, ok := w.ring[slot]
			if !ok || parked.Version != w.next {
				break
			}
			delete(w.ring, slot)
			w.appendRecord(parked)
			w.next++
		}
	case r.Version >= w.next+w.ringSize:
		glog.Errorf("binlog: version %d outran ring (next=%d, ring_size=%d): producer failed to rate-limit",
			r.Version, w.next, w.ringSize)
	default:
		w.ring[r.Version%w.ringSize] = r
	}
}

func (w *Writer) appendRecord(r Record) {
	buf := encode(r)
	if w.curSize+int64(len(buf)) > w.maxSize {
		w.rotateFile()
	}
	n, err := w.curFile.Write(buf)
	if err != nil {
		glog.Errorf("binlog: write to %s: %v", w.curFile.Name(), err)
		return
	}
	w.curSize += int64(n)
	if w.metrics != nil {
		w.metrics.BinlogAppends.WithLabelValues(w.subdir, r.Op.String()).Inc()
		w.metrics.BinlogBytes.WithLabelValues(w.subdir).Add(float64(n))
	}
}

func (w *Writer) rotateFile() {
	w.curFile.Sync()
	w.curFile.Close()
	w.curIndex++
	f, _, err := openForAppend(w.dir, w.curIndex)
	if err != nil {
		glog.Errorf("binlog: rotate to index %d: %v", w.curIndex, err)
		return
	}
	w.curFile = f
	w.curSize = 0
	if w.metrics != nil {
		w.metrics.BinlogRotations.WithLabelValues(w.subdir).Inc()
	}
}

// ReplayReader opens one rotated file (by index) purely for sequential
// reads, for a follower's catch-up replay of a peer's binlog.
func ReplayReader(dir string, index int) (*bufio.Reader, *os.File, error) {
	path := filepath.Join(dir, fileName(index))
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, cmn.WrapError(cmn.ErrIO, "open binlog file for replay", err)
	}
	return bufio.NewReader(f), f, nil
}

// ReadNext reads the next record from a reader opened with ReplayReader,
// exposing the same self-delimited framing the writer and recovery scan
// use.
func ReadNext(br *bufio.Reader) (Record, error) {
	r, _, err := decodeOne(br)
	return r, err
}
