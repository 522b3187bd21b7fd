// storectl is an operator CLI for a storenode's data directory: it reads
// storage.conf and the on-disk cluster/trunk state directly rather than
// talking to a running daemon over the wire, since that admin-facing
// network surface is outside this kernel's scope.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/hanyunqi/faststore/config"
	"github.com/hanyunqi/faststore/system"
)

var (
	version string
	build   string
)

func main() {
	app := &cli.App{
		Name:    "storectl",
		Usage:   "inspect and prepare a storenode data directory",
		Version: fmt.Sprintf("%s (build %s)", version, build),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conf", Value: "conf/storage.conf", Usage: "path to storage.conf"},
			&cli.IntFlag{Name: "id", Value: 0, Usage: "this server's id within the cluster"},
			&cli.StringFlag{Name: "cluster", Usage: "comma-separated id=host:port entries for the cluster"},
		},
		Commands: []*cli.Command{
			statusCommand,
			preallocCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "storectl:", err)
		os.Exit(1)
	}
}

func openSystem(c *cli.Context) (*system.System, error) {
	cfg, err := config.Load(c.String("conf"))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.String("conf"), err)
	}
	endpoints, err := parseCluster(c.String("cluster"))
	if err != nil {
		return nil, fmt.Errorf("parse --cluster: %w", err)
	}
	return system.Init(cfg, endpoints, c.Int("id"))
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "show per-path trunk usage and cluster server status",
	Action: func(c *cli.Context) error {
		sys, err := openSystem(c)
		if err != nil {
			return err
		}
		defer sys.Destroy()

		fmt.Println("cluster:")
		for _, srv := range sys.ServerGroup.Servers {
			marker := " "
			if srv == sys.ServerGroup.Myself {
				marker = "*"
			}
			fmt.Printf(" %s %3d  %-22s  %-10s  last_data_version=%d\n",
				marker, srv.ID, srv.Endpoint, srv.Status, srv.LastDataVersion)
		}

		fmt.Println("storage paths:")
		for _, a := range sys.Manager.AllAllocators() {
			fmt.Printf("  [%d] %-30s  open=%-3d  usage=%.1f%%\n",
				a.PathIndex, a.Path.Root, a.OpenTrunkCount(), a.UsageRatio()*100)
		}
		return nil
	},
}

var preallocCommand = &cli.Command{
	Name:  "prealloc",
	Usage: "top up every store path's open-trunk count to its configured target",
	Action: func(c *cli.Context) error {
		sys, err := openSystem(c)
		if err != nil {
			return err
		}
		defer sys.Destroy()

		allocators := sys.Manager.AllAllocators()
		p := mpb.New(mpb.WithWidth(64))
		for _, a := range allocators {
			a := a
			target := a.Path.PreallocTarget
			have := a.OpenTrunkCount()
			if have >= target {
				continue
			}
			bar := p.AddBar(int64(target),
				mpb.PrependDecorators(
					decor.Name(fmt.Sprintf("path %d", a.PathIndex), decor.WC{W: 12, C: decor.DSyncWidthR}),
					decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
				),
				mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
			)
			bar.IncrBy(have)
			for a.OpenTrunkCount() < target {
				if _, err := a.CreateTrunk(sys.Config.TrunkFileSize); err != nil {
					return fmt.Errorf("path %d: create trunk: %w", a.PathIndex, err)
				}
				bar.Increment()
				time.Sleep(10 * time.Millisecond) // let the bar render each step
			}
		}
		p.Wait()
		return nil
	},
}

func parseCluster(arg string) (map[int]string, error) {
	out := map[int]string{}
	for _, entry := range splitNonEmpty(arg, ',') {
		id, ep, err := splitPair(entry)
		if err != nil {
			return nil, err
		}
		out[id] = ep
	}
	return out, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func splitPair(entry string) (int, string, error) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == '=' {
			var id int
			if _, err := fmt.Sscanf(entry[:i], "%d", &id); err != nil {
				return 0, "", fmt.Errorf("malformed server id in %q: %w", entry, err)
			}
			return id, entry[i+1:], nil
		}
	}
	return 0, "", fmt.Errorf("malformed entry %q, expected id=host:port", entry)
}
