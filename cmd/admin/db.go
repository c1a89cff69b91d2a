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

	"stellarcolony.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	session := fs.String("session", "", "session_id filter (events)")
	typ := fs.String("type", "", "event type filter (events)")
	variant := fs.String("variant", "", "variant filter (summary) or catalog name (catalog)")
	sinceTick := fs.Uint64("since_tick", 0, "tick filter (events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "stellar.sqlite")
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows any
	switch q {
	case "sessions":
		rows, err = r.Sessions(ctx, *limit)
	case "events":
		rows, err = r.Events(ctx, indexdb.EventQuery{
			SessionID: strings.TrimSpace(*session),
			Type:      strings.TrimSpace(*typ),
			SinceTick: *sinceTick,
			Limit:     *limit,
		})
	case "summary":
		rows, err = r.Summary(ctx, strings.TrimSpace(*variant))
	case "catalog":
		if strings.TrimSpace(*variant) == "" {
			fmt.Fprintln(os.Stderr, "catalog needs -variant")
			os.Exit(2)
		}
		var d string
		d, err = r.CatalogDigest(ctx, strings.TrimSpace(*variant))
		rows = map[string]string{"name": *variant, "digest": d}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want sessions|events|summary|catalog)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printRows(rows)
}

// printRows writes slices one element per line, anything else as a single line.
func printRows(v any) {
	enc := json.NewEncoder(os.Stdout)
	switch rows := v.(type) {
	case []indexdb.SessionRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case []indexdb.EventRow:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case []indexdb.TypeCount:
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	default:
		_ = enc.Encode(rows)
	}
}
