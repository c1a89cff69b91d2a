// Package archive moves the journal of a finished session out of the live
// data directory and describes it with a manifest.
package archive

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"

	"stellarcolony.ai/internal/persistence/journal"
	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/engine"
)

const ManifestName = "manifest.json"

type Segment struct {
	Name   string `json:"name"`
	Bytes  int64  `json:"bytes"`
	Blake3 string `json:"blake3"`
}

type Manifest struct {
	SessionID     string    `json:"session_id"`
	Variant       string    `json:"variant"`
	Seed          int64     `json:"seed"`
	CatalogDigest string    `json:"catalog_digest"`
	EndTick       uint64    `json:"end_tick"`
	EndDigest     string    `json:"end_digest"`
	Intents       int       `json:"intents"`
	ArchivedAt    string    `json:"archived_at"`
	Segments      []Segment `json:"segments"`
}

// Enqueuer receives every archived file; objstore.Mirror implements it.
type Enqueuer interface {
	Enqueue(localPath string)
}

type Archiver struct {
	dataDir string
	clk     clock.Clock
	mirror  Enqueuer
	logger  *log.Logger
}

func New(dataDir string, clk clock.Clock, mirror Enqueuer, logger *log.Logger) *Archiver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Archiver{dataDir: dataDir, clk: clk, mirror: mirror, logger: logger}
}

// Dir is where ArchiveSession puts the files of session id.
func Dir(dataDir, id string) string {
	return filepath.Join(dataDir, "archive", id)
}

// ArchiveSession copies the closed journal of session id into
// <data>/archive/<id>/, writes the manifest and removes the live session
// directory. It returns the archive directory.
func (a *Archiver) ArchiveSession(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("archive: bad session id %q", id)
	}
	src := journal.SessionDir(a.dataDir, id)
	files, err := journal.Files(src)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("archive: session %s has no journal", id)
	}

	man := Manifest{SessionID: id}
	err = journal.ReadDir(src, func(ent engine.TickLogEntry) error {
		if ent.Meta != nil {
			man.Variant = ent.Meta.Variant
			man.Seed = ent.Meta.Seed
			man.CatalogDigest = ent.Meta.CatalogDigest
		}
		man.EndTick, man.EndDigest = ent.Tick, ent.Digest
		man.Intents += len(ent.Intents)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive: read journal %s: %w", id, err)
	}

	dst := Dir(a.dataDir, id)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	var copied []string
	for _, f := range files {
		out := filepath.Join(dst, filepath.Base(f))
		seg, err := copyFile(f, out)
		if err != nil {
			return "", err
		}
		man.Segments = append(man.Segments, seg)
		copied = append(copied, out)
	}
	man.ArchivedAt = a.clk.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")

	b, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return "", err
	}
	manPath := filepath.Join(dst, ManifestName)
	if err := os.WriteFile(manPath, b, 0o644); err != nil {
		return "", err
	}
	if err := os.RemoveAll(filepath.Dir(src)); err != nil {
		a.logf("archive session=%s: remove live dir: %v", id, err)
	}

	if a.mirror != nil {
		for _, p := range copied {
			a.mirror.Enqueue(p)
		}
		a.mirror.Enqueue(manPath)
	}
	a.logf("archive session=%s ticks=%d intents=%d segments=%d", id, man.EndTick, man.Intents, len(man.Segments))
	return dst, nil
}

// ReadManifest loads the manifest of an archived session.
func ReadManifest(dataDir, id string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(Dir(dataDir, id), ManifestName))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

// Verify recomputes the segment hashes of an archived session.
func Verify(dataDir, id string) error {
	m, err := ReadManifest(dataDir, id)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range m.Segments {
		sum, n, err := hashFile(filepath.Join(Dir(dataDir, id), s.Name))
		switch {
		case err != nil:
			errs = append(errs, err)
		case n != s.Bytes || sum != s.Blake3:
			errs = append(errs, fmt.Errorf("%s: content changed", s.Name))
		}
	}
	return errors.Join(errs...)
}

func copyFile(src, dst string) (Segment, error) {
	in, err := os.Open(src)
	if err != nil {
		return Segment{}, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return Segment{}, err
	}
	defer func() { _ = out.Close() }()

	h := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return Segment{}, err
	}
	if err := out.Close(); err != nil {
		return Segment{}, err
	}
	return Segment{Name: filepath.Base(dst), Bytes: n, Blake3: hex.EncodeToString(h.Sum(nil))}, nil
}

func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (a *Archiver) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
