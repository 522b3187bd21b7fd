// storenode is the daemon entrypoint: parse flags, load storage.conf and
// the cluster server list, and run the init -> start -> terminate ->
// destroy lifecycle until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"

	"github.com/hanyunqi/faststore/config"
	"github.com/hanyunqi/faststore/system"
)

// NOTE: set by ldflags at build time.
var (
	version string
	build   string
)

var (
	confPath   = flag.String("conf", "conf/storage.conf", "path to storage.conf")
	serverID   = flag.Int("id", 0, "this server's id within the cluster")
	clusterArg = flag.String("cluster", "", "comma-separated id=host:port entries for every server in the cluster, including this one")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	glog.Infof("storenode %s (build %s) starting", version, build)

	cfg, err := config.Load(*confPath)
	if err != nil {
		fatalf("load %s: %v", *confPath, err)
	}

	endpoints, err := parseCluster(*clusterArg)
	if err != nil {
		fatalf("parse -cluster: %v", err)
	}

	sys, err := system.Init(cfg, endpoints, *serverID)
	if err != nil {
		fatalf("init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sys.Start(ctx); err != nil {
		cancel()
		fatalf("start: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	glog.Infof("storenode: received %s, shutting down", sig)

	cancel()
	sys.Terminate()
	if err := sys.Destroy(); err != nil {
		glog.Errorf("storenode: destroy: %v", err)
	}
}

// parseCluster turns "1=host1:9000,2=host2:9000" into a server-id ->
// endpoint map, the shape config.LoadServerGroup expects.
func parseCluster(arg string) (map[int]string, error) {
	out := map[int]string{}
	if strings.TrimSpace(arg) == "" {
		return out, fmt.Errorf("-cluster is required")
	}
	for _, entry := range strings.Split(arg, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed entry %q, expected id=host:port", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("malformed server id in %q: %w", entry, err)
		}
		out[id] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

func fatalf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
	glog.Flush()
	os.Exit(1)
}
