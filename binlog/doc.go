// Package binlog implements the append-only, rotating binary log that
// slice-index mutations are recorded to (System.WriteSlice submits the
// record after the index update), and a reader that replays one binlog
// file in order (spec §4.E).
// Grounded on original_source/src/server/binlog/binlog_writer.h and
// binlog_types.h.
package binlog
