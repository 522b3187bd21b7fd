// Package config loads storage.conf and server_group.info and turns them
// into the named-field SystemConfig value every other package depends on,
// replacing the original implementation's macro-heavy config access (see
// DESIGN.md) with plain struct fields.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"fmt"
	"time"

	"github.com/hanyunqi/faststore/cmn"
	"gopkg.in/ini.v1"
)

// PathConfig describes one [store-path-N] or [write-cache-path-N] section.
type PathConfig struct {
	Index         int // position within its StorePaths/WriteCachePaths slice
	Path          string
	WriteThreads  int
	ReadThreads   int
	PreallocTrunks int
	ReservedSpace  float64 // ratio, e.g. 0.10 for 10%
}

// SystemConfig is the fully-resolved, validated contents of storage.conf.
type SystemConfig struct {
	DataPath string

	WriteThreadsPerDisk         int
	ReadThreadsPerDisk          int
	FDCacheCapacityPerReadThread int

	ObjectBlockHashtableCapacity int
	ObjectBlockSharedLocksCount  int

	PreallocTrunksPerWriter int
	PreallocTrunkThreads    int
	MaxTrunkFilesPerSubdir  int

	TrunkFileSize         int64
	DiscardRemainSpaceSize int64

	ReservedSpacePerDisk float64

	WriteCacheToHDOnUsage   float64
	WriteCacheToHDStartTime TimeOfDay
	WriteCacheToHDEndTime   TimeOfDay

	ReclaimTrunksOnUsage float64

	NetworkTimeout time.Duration

	StorePaths      []PathConfig
	WriteCachePaths []PathConfig
}

// TimeOfDay is an HH:MM wall-clock value, compared within a single day.
type TimeOfDay struct {
	Hour, Minute int
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Hour < o.Hour || (t.Hour == o.Hour && t.Minute < o.Minute)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

const (
	MinTrunkFileSize = 256 << 20       // 256 MiB
	MaxTrunkFileSize = 16 << 30        // 16 GiB
	MinDiscardRemain = 256             // 256 B
	MaxDiscardRemain = 256 << 10       // 256 KiB
	DefaultTrunkFileSize  = 1 << 30    // 1 GiB
	DefaultDiscardRemain  = 4 << 10    // 4 KiB
	DefaultHashtableCap   = 1403641
	DefaultSharedLocks    = 163
	DefaultFDCacheCap     = 256
	DefaultPreallocTrunks = 2
	DefaultPreallocThreads = 1
	DefaultMaxTrunkFilesPerSubdir = 100
	DefaultReservedSpace  = 0.10
	DefaultReclaimUsage   = 0.50
)

// Load reads storage.conf from path and returns a validated SystemConfig.
// Missing keys fall back to the documented defaults; an invalid ratio or
// unreadable path is a cmn.ErrInvalidConfig - fatal at startup per the
// design's error-handling policy.
func Load(path string) (*SystemConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.ErrInvalidConfig, "load storage.conf", err)
	}

	main := f.Section(ini.DefaultSection)
	cfg := &SystemConfig{
		DataPath:                     main.Key("data_path").MustString(""),
		WriteThreadsPerDisk:          main.Key("write_threads_per_disk").MustInt(1),
		ReadThreadsPerDisk:           main.Key("read_threads_per_disk").MustInt(1),
		FDCacheCapacityPerReadThread: main.Key("fd_cache_capacity_per_read_thread").MustInt(DefaultFDCacheCap),
		ObjectBlockHashtableCapacity: main.Key("object_block_hashtable_capacity").MustInt(DefaultHashtableCap),
		ObjectBlockSharedLocksCount:  main.Key("object_block_shared_locks_count").MustInt(DefaultSharedLocks),
		PreallocTrunksPerWriter:      main.Key("prealloc_trunks_per_writer").MustInt(DefaultPreallocTrunks),
		PreallocTrunkThreads:         main.Key("prealloc_trunk_threads").MustInt(DefaultPreallocThreads),
		MaxTrunkFilesPerSubdir:       main.Key("max_trunk_files_per_subdir").MustInt(DefaultMaxTrunkFilesPerSubdir),
		TrunkFileSize:                clamp(main.Key("trunk_file_size").MustInt64(DefaultTrunkFileSize), MinTrunkFileSize, MaxTrunkFileSize),
		DiscardRemainSpaceSize:       clamp(main.Key("discard_remain_space_size").MustInt64(DefaultDiscardRemain), MinDiscardRemain, MaxDiscardRemain),
		ReservedSpacePerDisk:         main.Key("reserved_space_per_disk").MustFloat64(DefaultReservedSpace),
		WriteCacheToHDOnUsage:        main.Key("write_cache_to_hd_on_usage").MustFloat64(0),
		ReclaimTrunksOnUsage:         main.Key("reclaim_trunks_on_usage").MustFloat64(DefaultReclaimUsage),
		NetworkTimeout:               time.Duration(main.Key("network_timeout_ms").MustInt(30000)) * time.Millisecond,
	}

	if s := main.Key("write_cache_to_hd_start_time").String(); s != "" {
		t, err := parseTimeOfDay(s)
		if err != nil {
			return nil, cmn.WrapError(cmn.ErrInvalidConfig, "write_cache_to_hd_start_time", err)
		}
		cfg.WriteCacheToHDStartTime = t
	}
	if s := main.Key("write_cache_to_hd_end_time").String(); s != "" {
		t, err := parseTimeOfDay(s)
		if err != nil {
			return nil, cmn.WrapError(cmn.ErrInvalidConfig, "write_cache_to_hd_end_time", err)
		}
		cfg.WriteCacheToHDEndTime = t
	}

	if cfg.DataPath == "" {
		return nil, cmn.NewError(cmn.ErrInvalidConfig, "data_path is required")
	}
	if cfg.ReservedSpacePerDisk < 0 || cfg.ReservedSpacePerDisk >= 1 {
		return nil, cmn.NewError(cmn.ErrInvalidConfig, "reserved_space_per_disk must be in [0,1)")
	}
	if cfg.ReclaimTrunksOnUsage <= 0 || cfg.ReclaimTrunksOnUsage > 1 {
		return nil, cmn.NewError(cmn.ErrInvalidConfig, "reclaim_trunks_on_usage must be in (0,1]")
	}

	cfg.StorePaths, err = loadPathSections(f, "store-path-")
	if err != nil {
		return nil, err
	}
	cfg.WriteCachePaths, err = loadPathSections(f, "write-cache-path-")
	if err != nil {
		return nil, err
	}
	if len(cfg.StorePaths) == 0 {
		return nil, cmn.NewError(cmn.ErrInvalidConfig, "at least one [store-path-N] section is required")
	}

	return cfg, nil
}

func loadPathSections(f *ini.File, prefix string) ([]PathConfig, error) {
	var paths []PathConfig
	for _, sec := range f.Sections() {
		if len(sec.Name()) <= len(prefix) || sec.Name()[:len(prefix)] != prefix {
			continue
		}
		p := sec.Key("path").String()
		if p == "" {
			return nil, cmn.NewError(cmn.ErrInvalidConfig, fmt.Sprintf("section %s missing path", sec.Name()))
		}
		paths = append(paths, PathConfig{
			Index:          len(paths),
			Path:           p,
			WriteThreads:   sec.Key("write_threads").MustInt(1),
			ReadThreads:    sec.Key("read_threads").MustInt(1),
			PreallocTrunks: sec.Key("prealloc_trunks").MustInt(DefaultPreallocTrunks),
			ReservedSpace:  sec.Key("reserved_space").MustFloat64(DefaultReservedSpace),
		})
	}
	return paths, nil
}

func parseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("out of range: %s", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// WithinFlushWindow reports whether now falls within [start, end) - the
// write_cache_to_hd flush window that flips the storage allocator manager's
// current pointer to write_cache.
func (c *SystemConfig) WithinFlushWindow(now time.Time) bool {
	cur := TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	if c.WriteCacheToHDStartTime.Before(c.WriteCacheToHDEndTime) {
		return !cur.Before(c.WriteCacheToHDStartTime) && cur.Before(c.WriteCacheToHDEndTime)
	}
	// window wraps past midnight
	return !cur.Before(c.WriteCacheToHDStartTime) || cur.Before(c.WriteCacheToHDEndTime)
}
