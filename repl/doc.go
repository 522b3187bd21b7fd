// Package repl implements the peer replication pipeline (spec §4.F):
// per-peer channel pairs in a master/follower handshake, an RPC queue and
// ack-matching ring on the master side, and data-group routed record
// application on the follower side. Grounded on
// original_source/src/server/replication/replication_common.c and the
// teacher's reb package (reb/global.go, reb/bcast.go) for the broadcast and
// per-peer worker idiom.
package repl
