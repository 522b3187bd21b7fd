// Package topology implements the cluster-topology notifier (spec §4.G):
// per-(data-group, server) change events, CAS-gated at-most-once enqueue,
// and the per-peer batched PUSH_DATA_SERVER_STATUS broadcast. Grounded on
// original_source/src/server/cluster_topology.c and
// original_source/src/server/server_group_info.c.
package topology
