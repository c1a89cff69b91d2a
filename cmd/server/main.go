package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stellarcolony.ai/internal/persistence/archive"
	"stellarcolony.ai/internal/persistence/journal"
	"stellarcolony.ai/internal/sim/catalogs"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	var (
		addr       = flag.String("addr", envString("STELLAR_ADDR", ":8080"), "http listen address")
		dataDir    = flag.String("data", envString("STELLAR_DATA_DIR", "./data"), "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: embedded)")
		variantDir = flag.String("variants", "", "directory of extra variant yaml files (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")
		reapEvery  = flag.Duration("reap_every", 30*time.Second, "idle session sweep interval")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	codec, err := journal.ParseCodec(tune.Journal.Codec)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	cats, err := loadVariants(*variantDir)
	if err != nil {
		logger.Fatalf("load variants: %v", err)
	}

	secret := []byte(strings.TrimSpace(os.Getenv("STELLAR_RESUME_SECRET")))
	if len(secret) == 0 {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			logger.Fatalf("resume secret: %v", err)
		}
		secret = []byte(hex.EncodeToString(b))
		logger.Printf("STELLAR_RESUME_SECRET not set; resume tokens last until restart")
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		list := make([]*catalogs.Catalog, 0, len(cats))
		for _, c := range cats {
			list = append(list, c)
		}
		if err := idx.UpsertCatalogs(list, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("object store mirror: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts := sessions.Options{
		Tuning:   tune,
		Secret:   secret,
		Logger:   logger,
		Catalogs: cats,
	}
	if idx != nil {
		opts.Sink = idx
		opts.Recorder = idx
	}
	if tune.Journal.Enabled {
		opts.Journal = journal.Opener(*dataDir, codec, nil)
		if envBool("STELLAR_ARCHIVE", true) {
			opts.Archiver = archive.New(*dataDir, nil, mirror, logger)
		}
	}
	reg := sessions.New(ctx, opts)
	defer func() {
		reg.CloseAll()
		reg.Wait()
		mirror.Close()
	}()
	go reg.RunReaper(ctx, *reapEvery)

	srv := &http.Server{
		Addr: *addr,
		Handler: newRouter(routerConfig{
			Registry:    reg,
			Tuning:      tune,
			Index:       idx,
			Mirror:      mirror,
			Logger:      logger,
			EnableAdmin: envBool("STELLAR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
			EnablePprof: envBool("STELLAR_ENABLE_PPROF_HTTP", false),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s variants=%v tick=%dms", *addr, reg.Variants(), tune.TickIntervalMs)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// loadVariants returns the embedded variants plus any *.yaml in dir, which
// may override an embedded one by name.
func loadVariants(dir string) (map[string]*catalogs.Catalog, error) {
	out := map[string]*catalogs.Catalog{}
	for _, name := range catalogs.Names() {
		c, err := catalogs.Builtin(name)
		if err != nil {
			return nil, err
		}
		out[c.Name] = c
	}
	if strings.TrimSpace(dir) == "" {
		return out, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		c, err := catalogs.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[c.Name] = c
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
