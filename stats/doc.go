// Package stats tracks per-subsystem counters and gauges - open-trunk
// counts, allocation outcomes, replication lag, binlog throughput - and
// exposes them as prometheus metrics alongside a lightweight snapshot type
// for log lines and admin-CLI reporting.
package stats
