package binlog

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/hanyunqi/faststore/cmn"
)

// RecoverLastFile scans dir for existing binlog.NNNNNN files, truncates the
// highest-indexed one back to its last well-formed record boundary if a
// crash left a partial record at the tail, and returns the index to resume
// appending at (0 if dir is empty) - spec §4.E crash recovery.
func RecoverLastFile(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, cmn.WrapError(cmn.ErrIO, "read binlog dir", err)
	}
	var indices []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := parseFileName(e.Name()); ok {
			indices = append(indices, idx)
		}
	}
	if len(indices) == 0 {
		return 0, nil
	}
	sort.Ints(indices)
	last := indices[len(indices)-1]

	path := filepath.Join(dir, fileName(last))
	validLen, err := scanValidPrefix(path)
	if err != nil {
		return 0, err
	}
	if err := truncateTo(path, validLen); err != nil {
		return 0, err
	}
	return last, nil
}

func parseFileName(name string) (int, bool) {
	const prefix = "binlog."
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, false
	}
	return idx, true
}

// scanValidPrefix reads every complete record in path and returns the byte
// offset just past the last one - the truncation point that discards any
// trailing partial record left by a crash mid-write.
func scanValidPrefix(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, cmn.WrapError(cmn.ErrIO, "open binlog file for recovery scan", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var offset int64
	for {
		_, n, err := decodeOne(br)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			glog.Warningf("binlog: truncating %s at offset %d: crash-truncated record", path, offset)
			break
		}
		if err != nil {
			return 0, cmn.WrapError(cmn.ErrIO, "scan binlog file", err)
		}
		offset += int64(n)
	}
	return offset, nil
}

func truncateTo(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cmn.WrapError(cmn.ErrIO, "open binlog file for truncation", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return cmn.WrapError(cmn.ErrIO, "stat binlog file", err)
	}
	if st.Size() == size {
		return nil
	}
	return f.Truncate(size)
}
