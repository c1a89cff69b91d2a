// Package journal writes and reads the per-session tick journal: one JSON
// line per tick, compressed, rotated hourly.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"stellarcolony.ai/internal/sim/clock"
)

type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecZstd, "":
		return CodecZstd, nil
	case CodecLZ4:
		return CodecLZ4, nil
	}
	return "", fmt.Errorf("unknown journal codec %q", s)
}

func (c Codec) ext() string {
	if c == CodecLZ4 {
		return ".jsonl.lz4"
	}
	return ".jsonl.zst"
}

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// Writer appends JSON lines to <dir>/<prefix>-<hour>-<seq><ext>. A new
// segment is started every UTC hour and never reopens an existing file, so
// each segment is exactly one compressed stream.
type Writer struct {
	dir    string
	prefix string
	codec  Codec
	clk    clock.Clock

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     flushWriteCloser
	w       *bufio.Writer
}

func NewWriter(dir, prefix string, codec Codec, clk clock.Clock) *Writer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if codec == "" {
		codec = CodecZstd
	}
	return &Writer{dir: dir, prefix: prefix, codec: codec, clk: clk}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.clk.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	var f *os.File
	for seq := 0; ; seq++ {
		var err error
		f, err = os.OpenFile(w.segmentPath(hour, seq), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) || seq > 999 {
			return err
		}
	}
	enc, err := newEncoder(f, w.codec)
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func newEncoder(f io.Writer, codec Codec) (flushWriteCloser, error) {
	switch codec {
	case CodecLZ4:
		zw := lz4.NewWriter(f)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	}
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err != nil && err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *Writer) segmentPath(hour string, seq int) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s-%03d%s", w.prefix, hour, seq, w.codec.ext()))
}
