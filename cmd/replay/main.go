package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"stellarcolony.ai/internal/persistence/archive"
	"stellarcolony.ai/internal/persistence/journal"
	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/engine"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	var (
		dir      = fs.String("journal", "", "journal directory (ticks-*.jsonl.zst|lz4)")
		dataDir  = fs.String("data", "./data", "runtime data directory (with -session)")
		session  = fs.String("session", "", "session id under <data>/sessions")
		variants = fs.String("variant_file", "", "catalog yaml to use instead of the embedded variant")
		toTick   = fs.Uint64("to_tick", 0, "stop after this tick (0 = end of journal)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	jdir := *dir
	if jdir == "" {
		if *session == "" {
			return errors.New("missing -journal or -session")
		}
		jdir = journal.SessionDir(*dataDir, *session)
		if _, err := os.Stat(jdir); err != nil {
			// Closed sessions live in the archive.
			jdir = archive.Dir(*dataDir, *session)
		}
	}

	var (
		rp      *engine.Replayer
		last    uint64
		stopped = errors.New("stop")
	)
	err := journal.ReadDir(jdir, func(ent engine.TickLogEntry) error {
		if rp == nil {
			if ent.Meta == nil {
				return fmt.Errorf("first entry (tick %d) has no header", ent.Tick)
			}
			cat, err := loadCatalog(ent.Meta.Variant, *variants)
			if err != nil {
				return err
			}
			rp, err = engine.NewReplayer(cat, ent)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "session=%s variant=%s seed=%d catalog=%s\n",
				ent.Meta.SessionID, ent.Meta.Variant, ent.Meta.Seed, short(ent.Meta.CatalogDigest))
			return nil
		}
		if *toTick != 0 && ent.Tick > *toTick {
			return stopped
		}
		if err := rp.Step(ent); err != nil {
			return err
		}
		last = ent.Tick
		return nil
	})
	if err != nil && !errors.Is(err, stopped) {
		return err
	}
	if rp == nil {
		return errors.New("empty journal")
	}
	st := rp.Engine().State()
	fmt.Fprintf(stdout, "replay ok: ticks=%d intents=%d stage=%d prestige=%d digest=%s\n",
		last, rp.Intents(), st.Stage.Level, st.Prestige.Bonus, short(st.Digest))
	return nil
}

func loadCatalog(variant, file string) (*catalogs.Catalog, error) {
	if file != "" {
		c, err := catalogs.Load(filepath.Clean(file))
		if err != nil {
			return nil, err
		}
		if c.Name != variant {
			return nil, fmt.Errorf("%s defines variant %q, journal wants %q", file, c.Name, variant)
		}
		return c, nil
	}
	return catalogs.Builtin(variant)
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
