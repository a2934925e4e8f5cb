package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"gridpilot.ai/internal/nav/navigator"
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

// Path is the file the next write goes to, or "" before the first write.
func (w *JSONLZstdWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curHour == "" {
		return ""
	}
	return w.pathForHour(w.curHour)
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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

// Entry is one journal line.
type Entry struct {
	Ship  string          `json:"ship,omitempty"`
	Event navigator.Event `json:"event"`
}

// Journal writes every navigation event it records (compressed). Failed writes are
// logged and counted, never returned to the navigator that emitted the event.
type Journal struct {
	w      *JSONLZstdWriter
	log    *charm.Logger
	names  func(ev navigator.Event) string
	failed atomic.Uint64
}

// NewJournal writes under <dataDir>/journal. names, if set, resolves the ship name stored
// next to each event.
func NewJournal(dataDir string, logger *charm.Logger, names func(navigator.Event) string) *Journal {
	if logger == nil {
		logger = charm.Default()
	}
	return &Journal{
		w:     NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "nav"),
		log:   logger.WithPrefix("journal"),
		names: names,
	}
}

func (j *Journal) Record(ev navigator.Event) {
	e := Entry{Event: ev}
	if j.names != nil {
		e.Ship = j.names(ev)
	}
	if err := j.w.Write(e); err != nil {
		if j.failed.Add(1) == 1 {
			j.log.Warn("journal write failed", "err", err)
		}
	}
}

func (j *Journal) Failed() uint64 { return j.failed.Load() }
func (j *Journal) Path() string   { return j.w.Path() }
func (j *Journal) Close() error   { return j.w.Close() }

// ReadEntries decodes a whole journal file.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s line %d: %w", path, len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
