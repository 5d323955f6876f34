package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Rotator appends JSON-lines event entries to a file, rotating it to a
// timestamped .gz once it exceeds maxBytes. Appends go to the plain,
// uncompressed file; on rotation the whole file is compressed in one
// pass with klauspost/compress's gzip.
type Rotator struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	written  int64
}

// NewRotator opens (creating if needed) path for appending.
func NewRotator(path string, maxBytes int64) (*Rotator, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating observability log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening observability log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stating observability log: %w", err)
	}
	return &Rotator{path: path, maxBytes: maxBytes, f: f, written: info.Size()}, nil
}

// Write appends e as one JSON line, rotating first if the file has
// grown past maxBytes.
func (r *Rotator) Write(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.written >= r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling observability entry: %w", err)
	}
	line = append(line, '\n')
	n, err := r.f.Write(line)
	if err != nil {
		return fmt.Errorf("writing observability entry: %w", err)
	}
	r.written += int64(n)
	return nil
}

func (r *Rotator) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("closing observability log before rotation: %w", err)
	}

	archivePath := fmt.Sprintf("%s.%d.gz", r.path, time.Now().UnixNano())
	if err := gzipFile(r.path, archivePath); err != nil {
		return err
	}
	if err := os.Remove(r.path); err != nil {
		return fmt.Errorf("removing rotated observability log: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("reopening observability log after rotation: %w", err)
	}
	r.f = f
	r.written = 0
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening observability log for rotation: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating rotated observability archive: %w", err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return fmt.Errorf("compressing rotated observability log: %w", err)
	}
	return gw.Close()
}

// Close flushes and closes the underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
