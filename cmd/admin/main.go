package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	persistlog "github.com/Staticpast/ModeManager/internal/persistence/log"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/store"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "check":
			checkCmd(os.Args[2:])
			return
		case "blocks":
			blocksCmd(os.Args[2:])
			return
		case "frames":
			framesCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "online":
			onlineCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "force":
			forceCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func die(code int, args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(code)
}

// listCmd prints every stored user with their mode and last switch.
func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "playerdata")
	ids, err := store.List(dir)
	if err != nil {
		die(1, "read:", err)
	}
	for _, id := range ids {
		st, err := store.ReadFile(store.DocPath(dir, id))
		if err != nil {
			fmt.Printf("%s\t<unreadable: %v>\n", id, err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", id, st.CurrentMode(), humanize.Time(st.LastSwitch()))
	}
}

// checkCmd shows one user's mode, cooldown and history straight from disk.
func checkCmd(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	configPath := fs.String("config", "./configs/config.yaml", "config.yaml, for the cooldown length")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		die(2, "usage: admin check [-data dir] <uuid>")
	}
	id, err := uuid.Parse(strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		die(2, "bad uuid:", err)
	}

	cfg, err := tuning.Load(*configPath)
	if err != nil {
		cfg = tuning.Defaults()
	}
	st, err := store.ReadFile(store.DocPath(filepath.Join(*dataDir, "playerdata"), id))
	if err != nil {
		die(1, "read:", err)
	}

	fmt.Printf("user:        %s\n", id)
	fmt.Printf("mode:        %s\n", st.CurrentMode())
	fmt.Printf("last switch: %s (%s)\n", st.LastSwitch().Format(time.RFC3339), humanize.Time(st.LastSwitch()))
	if cd := cfg.Cooldown(); cd > 0 {
		if n := st.RemainingCooldown(time.Now(), cd); n > 0 {
			fmt.Printf("cooldown:    %ds left\n", n)
		} else {
			fmt.Printf("cooldown:    none\n")
		}
	}
	modes := make([]string, 0, len(st.Snapshots))
	for m := range st.Snapshots {
		modes = append(modes, string(m))
	}
	sort.Strings(modes)
	fmt.Printf("snapshots:   %s\n", strings.Join(modes, ", "))
	fmt.Println("history:")
	for _, r := range st.History() {
		fmt.Printf("  %s\n", r)
	}
}

func loadIndex(dataDir string) *ownership.Index {
	x := ownership.New(dataDir, log.New(os.Stderr, "[admin] ", 0))
	if err := x.Load(); err != nil {
		die(1, "load:", err)
	}
	return x
}

func blocksCmd(args []string) {
	fs := flag.NewFlagSet("blocks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldName := fs.String("world", "", "only blocks in this world")
	owner := fs.String("owner", "", "only blocks placed by this uuid")
	_ = fs.Parse(args)

	blocks := loadIndex(*dataDir).Blocks()
	keys := make([]ownership.BlockKey, 0, len(blocks))
	for k, o := range blocks {
		if *worldName != "" && k.World != *worldName {
			continue
		}
		if *owner != "" && o.String() != *owner {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		fmt.Printf("%s\t%s\n", k, blocks[k])
	}
	fmt.Fprintf(os.Stderr, "%s tracked blocks\n", humanize.Comma(int64(len(keys))))
}

func framesCmd(args []string) {
	fs := flag.NewFlagSet("frames", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	frames := loadIndex(*dataDir).Objects()
	ids := make([]uuid.UUID, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		fmt.Printf("%s\t%s\n", id, frames[id])
	}
	fmt.Fprintf(os.Stderr, "%s tracked item frames\n", humanize.Comma(int64(len(ids))))
}

// auditCmd prints audit log entries as JSON lines.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	user := fs.String("user", "", "only entries for this uuid")
	kind := fs.String("type", "", "TRANSITION or DENIAL")
	since := fs.Duration("since", 0, "only entries newer than this (e.g. 24h)")
	_ = fs.Parse(args)

	var cutoff int64
	if *since > 0 {
		cutoff = time.Now().Add(-*since).Unix()
	}
	want := strings.ToUpper(strings.TrimSpace(*kind))
	entries, err := persistlog.ReadAudit(*dataDir, func(e persistlog.AuditEntry) bool {
		if *user != "" && e.UserID != *user {
			return false
		}
		if want != "" && e.Type != want {
			return false
		}
		return e.At >= cutoff
	})
	for _, e := range entries {
		printJSON(e)
	}
	if err != nil {
		die(1, "audit:", err)
	}
}
