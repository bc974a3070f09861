// Package log writes hourly-rotated, zstd-compressed JSONL files: one line per
// sync flush and one per determinism failure.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/validator"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Dir() string { return w.baseDir }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
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
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	// A restart within the same hour starts a new file rather than appending
	// a second zstd frame to the old one.
	path := w.pathForHour(hour)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.%d.jsonl.zst", w.prefix, hour, i))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// SyncRecord is one flushed batch of a match, as encoded envelopes.
type SyncRecord struct {
	Time    time.Time         `json:"time"`
	MatchID uuid.UUID         `json:"match_id"`
	Actions []json.RawMessage `json:"actions"`
}

// SyncLogger writes one JSONL entry per sync flush (compressed).
type SyncLogger struct{ w *JSONLZstdWriter }

func NewSyncLogger(dataDir string) *SyncLogger {
	return &SyncLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "sync"), "sync")}
}

func (l *SyncLogger) WriteBatch(v SyncRecord) error { return l.w.Write(v) }
func (l *SyncLogger) Dir() string                   { return l.w.Dir() }
func (l *SyncLogger) Close() error                  { return l.w.Close() }

// DivergenceRecord is one validator failure.
type DivergenceRecord struct {
	Time time.Time `json:"time"`
	validator.Failure
}

// DivergenceLogger writes divergence JSONL entries (compressed).
type DivergenceLogger struct{ w *JSONLZstdWriter }

func NewDivergenceLogger(dataDir string) *DivergenceLogger {
	return &DivergenceLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "divergence"), "divergence")}
}

func (l *DivergenceLogger) WriteFailure(v DivergenceRecord) error { return l.w.Write(v) }
func (l *DivergenceLogger) Dir() string                           { return l.w.Dir() }
func (l *DivergenceLogger) Close() error                          { return l.w.Close() }
