// Package log writes append-only, hourly rotated, zstd compressed JSONL
// files under the data directory.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Staticpast/ModeManager/internal/sim/policy"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
)

const hourLayout = "2006-01-02-15"

// Writer appends one JSON value per line to <dir>/<prefix>-<hour>.jsonl.zst.
// Each hour is its own file; a restart within the hour starts a new zstd
// frame in the same file.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func NewWriter(dir, prefix string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{dir: dir, prefix: prefix, now: now}
}

func (w *Writer) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format(hourLayout); hour != w.hour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Flush pushes buffered lines through the encoder to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Path is the file that lines written at t land in.
func (w *Writer) Path(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, t.UTC().Format(hourLayout)))
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *Writer) closeLocked() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.hour = ""
	return err
}

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	Type       string `json:"type"`
	At         int64  `json:"at"`
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Remaining  int64  `json:"remaining,omitempty"`
	Privileged bool   `json:"privileged,omitempty"`
	Admin      string `json:"admin,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

const (
	EntryTransition = "TRANSITION"
	EntryDenial     = "DENIAL"
)

// AuditLogger records every transition attempt and every denial. It
// implements the engine's observer; write failures are counted, not returned.
type AuditLogger struct {
	w      *Writer
	mu     sync.Mutex
	errors uint64
}

func NewAuditLogger(dataDir string, now func() time.Time) *AuditLogger {
	return &AuditLogger{w: NewWriter(filepath.Join(dataDir, "audit"), "audit", now)}
}

func (l *AuditLogger) ObserveTransition(ev transition.Event) {
	l.write(AuditEntry{
		Type:       EntryTransition,
		At:         ev.At.Unix(),
		UserID:     ev.UserID.String(),
		Name:       ev.Name,
		From:       string(ev.From),
		To:         string(ev.To),
		Reason:     ev.Reason,
		Outcome:    ev.Outcome.String(),
		Remaining:  ev.Remaining,
		Privileged: ev.Privileged,
		Admin:      ev.Admin,
	})
}

func (l *AuditLogger) ObserveDenial(d policy.Denial) {
	l.write(AuditEntry{
		Type:    EntryDenial,
		At:      d.At.Unix(),
		UserID:  d.UserID.String(),
		Name:    d.Name,
		Rule:    d.Rule,
		Subject: d.Subject,
	})
}

func (l *AuditLogger) write(e AuditEntry) {
	if err := l.w.Write(e); err != nil {
		l.mu.Lock()
		l.errors++
		l.mu.Unlock()
	}
}

// Errors is the number of entries that failed to write.
func (l *AuditLogger) Errors() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

func (l *AuditLogger) Path(t time.Time) string { return l.w.Path(t) }
func (l *AuditLogger) Flush() error            { return l.w.Flush() }
func (l *AuditLogger) Close() error            { return l.w.Close() }
