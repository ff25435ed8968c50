package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Staticpast/ModeManager/internal/persistence/indexdb"
)

// dbCmd queries the sqlite read-model: transitions, denials or counts.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index.db)")
	user := fs.String("user", "", "user uuid filter")
	rule := fs.String("rule", "", "rule filter (denials)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "transitions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}
	if *limit <= 0 {
		*limit = 20
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		die(1, "open:", err)
	}
	defer r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch q {
	case "transitions":
		rows, err := r.Transitions(ctx, *user, *limit)
		if err != nil {
			die(1, "query:", err)
		}
		for _, row := range rows {
			printJSON(row)
		}

	case "denials":
		rows, err := r.Denials(ctx, *user, *rule, *limit)
		if err != nil {
			die(1, "query:", err)
		}
		for _, row := range rows {
			printJSON(row)
		}

	case "counts":
		counts, err := r.DenialCounts(ctx)
		if err != nil {
			die(1, "query:", err)
		}
		for _, c := range counts {
			fmt.Printf("%-28s %s\n", c.Rule, humanize.Comma(c.Count))
		}

	default:
		die(2, "unknown query:", q, "(want transitions, denials or counts)")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
