package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hanyunqi/faststore/cmn"
	"gopkg.in/ini.v1"
)

// ServerStatus mirrors the original FS_SERVER_STATUS_* enum used in
// server_group.info.
type ServerStatus int

const (
	ServerStatusInit ServerStatus = iota
	ServerStatusOffline
	ServerStatusSyncing
	ServerStatusActive
)

func (s ServerStatus) String() string {
	switch s {
	case ServerStatusInit:
		return "init"
	case ServerStatusOffline:
		return "offline"
	case ServerStatusSyncing:
		return "syncing"
	case ServerStatusActive:
		return "active"
	default:
		return "unknown"
	}
}

const serverGroupInfoFilename = "server_group.info"

// ClusterServerInfo is one entry in the cluster's server array, loaded from
// the [server-<id>] sections of server_group.info.
type ClusterServerInfo struct {
	ID              int
	Endpoint        string
	Status          ServerStatus
	LastDataVersion uint64

	// ServerIndex is this server's position in ServerGroup.Servers, used
	// wherever the original used pointer arithmetic against the base of
	// the server array (see DESIGN.md "pointer arithmetic for indexing").
	ServerIndex int
	// LinkIndex is a slot for this peer's position among non-self peers.
	// LoadServerGroup sets it to -1 and nothing in this module assigns it.
	LinkIndex int
}

// ServerGroup is the in-memory, periodically-synced mirror of
// server_group.info: every server in the data group's cluster and whichever
// one of them is "myself".
type ServerGroup struct {
	mu              sync.Mutex
	Servers         []*ClusterServerInfo
	Myself          *ClusterServerInfo
	changeVersion   int64
	lastSyncVersion int64
}

// LoadServerGroup loads server_group.info from dataPath, creating a fresh
// one (status=init for every known endpoint) if it doesn't exist yet. On
// crash, server_group.info is the last-synced truth; any server found
// SYNCING or ACTIVE is demoted to OFFLINE until it re-joins and proves
// otherwise, exactly as the original load_servers_from_ini_ctx does.
func LoadServerGroup(dataPath string, endpoints map[int]string, myID int) (*ServerGroup, error) {
	sg := &ServerGroup{}
	for id, ep := range endpoints {
		sg.Servers = append(sg.Servers, &ClusterServerInfo{ID: id, Endpoint: ep, LinkIndex: -1})
	}

	full := filepath.Join(dataPath, serverGroupInfoFilename)
	f, err := ini.Load(full)
	if err == nil {
		for _, cs := range sg.Servers {
			sec, serr := f.GetSection(fmt.Sprintf("server-%d", cs.ID))
			if serr != nil {
				continue
			}
			status := ServerStatus(sec.Key("status").MustInt(int(ServerStatusInit)))
			if status == ServerStatusSyncing || status == ServerStatusActive {
				status = ServerStatusOffline
			}
			cs.Status = status
			cs.LastDataVersion = uint64(sec.Key("last_data_version").MustInt64(0))
		}
	}

	for i, cs := range sg.Servers {
		cs.ServerIndex = i
		if cs.ID == myID {
			sg.Myself = cs
		}
	}
	if sg.Myself == nil {
		return nil, cmn.NewError(cmn.ErrInvalidConfig, fmt.Sprintf("server id %d not found in cluster config", myID))
	}

	if err != nil {
		if werr := sg.persistLocked(dataPath); werr != nil {
			return nil, werr
		}
	}
	return sg, nil
}

func (sg *ServerGroup) persistLocked(dataPath string) error {
	f := ini.Empty()
	for _, cs := range sg.Servers {
		sec, _ := f.NewSection(fmt.Sprintf("server-%d", cs.ID))
		sec.NewKey("status", fmt.Sprintf("%d", int(cs.Status)))
		sec.NewKey("last_data_version", fmt.Sprintf("%d", cs.LastDataVersion))
	}
	full := filepath.Join(dataPath, serverGroupInfoFilename)
	if err := f.SaveTo(full); err != nil {
		return cmn.WrapError(cmn.ErrIO, "write server_group.info", err)
	}
	return nil
}

// SetStatus updates a server's status and bumps the change version so a
// scheduled SyncToFile call knows there's something new to flush - mirrors
// server_group_info_sync_to_file's last_synced_version guard.
func (sg *ServerGroup) SetStatus(id int, status ServerStatus) {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	for _, cs := range sg.Servers {
		if cs.ID == id {
			cs.Status = status
			sg.changeVersion++
			return
		}
	}
}

// SyncToFile persists the current server table if it changed since the last
// sync, the way the original's scheduled task only rewrites the file when
// change_version has moved.
func (sg *ServerGroup) SyncToFile(dataPath string) error {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	if sg.changeVersion == sg.lastSyncVersion {
		return nil
	}
	sg.lastSyncVersion = sg.changeVersion
	return sg.persistLocked(dataPath)
}

// ActivePeers returns every server but Myself whose status is Active.
func (sg *ServerGroup) ActivePeers() []*ClusterServerInfo {
	var out []*ClusterServerInfo
	for _, cs := range sg.Servers {
		if cs != sg.Myself && cs.Status == ServerStatusActive {
			out = append(out, cs)
		}
	}
	return out
}
