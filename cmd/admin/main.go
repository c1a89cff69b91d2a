package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stellarcolony.ai/internal/persistence/archive"
	"stellarcolony.ai/internal/persistence/journal"
	"stellarcolony.ai/internal/sim/engine"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "archive":
			archiveCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "close":
			closeCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the session directories found on disk.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "sessions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Println(e.Name())
		}
	}
}

// journalCmd dumps journal entries as JSON lines.
func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session id (required unless -dir)")
	dir := fs.String("dir", "", "journal directory (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "skip entries before this tick")
	onlyIntents := fs.Bool("only_intents", false, "print only entries that carry intents")
	_ = fs.Parse(args)

	jdir := strings.TrimSpace(*dir)
	if jdir == "" {
		if strings.TrimSpace(*session) == "" {
			fmt.Fprintln(os.Stderr, "missing -session or -dir")
			os.Exit(2)
		}
		jdir = journal.SessionDir(*dataDir, *session)
		if _, err := os.Stat(jdir); err != nil {
			jdir = archive.Dir(*dataDir, *session)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	n := 0
	err := journal.ReadDir(jdir, func(ent engine.TickLogEntry) error {
		if ent.Tick < *sinceTick && ent.Meta == nil {
			return nil
		}
		if *onlyIntents && len(ent.Intents) == 0 && ent.Meta == nil {
			return nil
		}
		n++
		return enc.Encode(ent)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no journal entries in", jdir)
		os.Exit(2)
	}
}

// archiveCmd prints the manifest of an archived session and checks its segments.
func archiveCmd(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session id (required)")
	verify := fs.Bool("verify", true, "recompute segment hashes")
	_ = fs.Parse(args)

	if strings.TrimSpace(*session) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	m, err := archive.ReadManifest(*dataDir, *session)
	if err != nil {
		fmt.Fprintln(os.Stderr, "manifest:", err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(m, "", "  ")
	fmt.Println(string(b))
	if !*verify {
		return
	}
	if err := archive.Verify(*dataDir, *session); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "verify ok")
}
