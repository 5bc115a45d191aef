// Package chain appends audit events to a hash-chained JSONL file. Each line
// carries the hash of the previous one, making after-the-fact tampering with
// the approval trail detectable.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/groupguard/quorum/internal/audit"
)

type Writer struct {
	mu   sync.Mutex
	f    *os.File
	prev []byte // previous hash
}

func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, prev: make([]byte, 32)}, nil
}

func (w *Writer) Close() error { return w.f.Close() }

type record struct {
	audit.Event
	Prev string `json:"prev"`
	Hash string `json:"hash"`
}

// Record implements audit.Sink.
func (w *Writer) Record(ev audit.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := record{Event: ev, Prev: hex.EncodeToString(w.prev)}
	b, _ := json.Marshal(rec)
	h := sha256.Sum256(append(w.prev, b...))
	rec.Hash = hex.EncodeToString(h[:])
	b, _ = json.Marshal(rec)
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return err
	}
	copy(w.prev, h[:])
	return nil
}
