package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/engine"
	"stellarcolony.ai/internal/sim/sessions"
)

const prefix = "ticks"

// TickJournal writes one engine.TickLogEntry per line.
type TickJournal struct{ w *Writer }

func NewTickJournal(dir string, codec Codec, clk clock.Clock) *TickJournal {
	return &TickJournal{w: NewWriter(dir, prefix, codec, clk)}
}

func (j *TickJournal) WriteTick(e engine.TickLogEntry) error { return j.w.Write(e) }
func (j *TickJournal) Close() error                          { return j.w.Close() }

// SessionDir is where a session's journal lives under dataDir.
func SessionDir(dataDir, sessionID string) string {
	return filepath.Join(dataDir, "sessions", sessionID, "journal")
}

// Opener journals every session under dataDir.
func Opener(dataDir string, codec Codec, clk clock.Clock) sessions.JournalOpener {
	return func(sessionID, variant string) (sessions.JournalCloser, error) {
		if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || strings.Contains(sessionID, "..") {
			return nil, fmt.Errorf("bad session id %q", sessionID)
		}
		return NewTickJournal(SessionDir(dataDir, sessionID), codec, clk), nil
	}
}

// Files lists the journal segments in dir in write order.
func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix+"-") {
			continue
		}
		if strings.HasSuffix(n, CodecZstd.ext()) || strings.HasSuffix(n, CodecLZ4.ext()) {
			out = append(out, filepath.Join(dir, n))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadDir calls fn for every entry in dir, oldest first. Returning
// io.EOF from fn stops early without error.
func ReadDir(dir string, fn func(engine.TickLogEntry) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no journal segments in %s", dir)
	}
	for _, p := range files {
		if err := ReadFile(p, fn); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

// ReadFile decodes one segment. A compressed stream that was never closed,
// as left by a crash or a live session, ends the segment quietly.
func ReadFile(path string, fn func(engine.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, CodecLZ4.ext()):
		r = lz4.NewReader(f)
	default:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e engine.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
