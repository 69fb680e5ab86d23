package fsstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultRotateMaxBytes = 50 * 1024 * 1024

type JSONLOptions struct {
	DirPerm        os.FileMode
	FilePerm       os.FileMode
	RotateMaxBytes int64
	// Lock serializes appends and rotation across processes sharing the file.
	Lock bool
}

func (o JSONLOptions) normalized() JSONLOptions {
	if o.DirPerm == 0 {
		o.DirPerm = defaultDirPerm
	}
	if o.FilePerm == 0 {
		o.FilePerm = defaultFilePerm
	}
	if o.RotateMaxBytes <= 0 {
		o.RotateMaxBytes = defaultRotateMaxBytes
	}
	return o
}

// JSONLWriter appends one JSON document per line. Every append is flushed
// before it returns. The file is renamed with a UTC timestamp suffix once it
// would grow past RotateMaxBytes.
type JSONLWriter struct {
	path string
	opts JSONLOptions

	mu     sync.Mutex
	file   *os.File
	closed bool

	now func() time.Time
}

func NewJSONLWriter(path string, opts JSONLOptions) (*JSONLWriter, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	w := &JSONLWriter{path: normalized, opts: opts.normalized(), now: time.Now}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JSONLWriter) Path() string { return w.path }

func (w *JSONLWriter) Append(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: jsonl encode %s: %v", ErrEncodeFailed, w.path, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("jsonl writer closed")
	}
	if !w.opts.Lock {
		return w.writeLocked(data)
	}
	return WithLock(ctx, LockPathFor(w.path), func() error {
		return w.writeLocked(data)
	})
}

func (w *JSONLWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *JSONLWriter) writeLocked(data []byte) error {
	size, err := w.currentSizeLocked()
	if err != nil {
		return err
	}
	if size > 0 && size+int64(len(data)) > w.opts.RotateMaxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	// One write call per line keeps O_APPEND writes from interleaving.
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return nil
}

// currentSizeLocked stats the path rather than the handle so a rotation done
// by another process is noticed.
func (w *JSONLWriter) currentSizeLocked() (int64, error) {
	info, err := os.Stat(w.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := w.reopenLocked(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if open, err := w.file.Stat(); err == nil && !os.SameFile(info, open) {
		if err := w.reopenLocked(); err != nil {
			return 0, err
		}
	}
	return info.Size(), nil
}

func (w *JSONLWriter) rotateLocked() error {
	ts := w.now().UTC().Format("20060102T150405Z")
	target := w.path + "." + ts
	for i := 1; ; i++ {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		target = fmt.Sprintf("%s.%s.%d", w.path, ts, i)
	}
	if err := os.Rename(w.path, target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return w.reopenLocked()
}

func (w *JSONLWriter) reopenLocked() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	return w.openLocked()
}

func (w *JSONLWriter) openLocked() error {
	if err := EnsureDir(filepath.Dir(w.path), w.opts.DirPerm); err != nil {
		return err
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, w.opts.FilePerm)
	if err != nil {
		return err
	}
	w.file = file
	return nil
}

// ReadJSONLTail decodes the last limit lines of path into T, oldest first.
// A missing file yields no records. limit <= 0 reads everything.
func ReadJSONLTail[T any](path string, limit int) ([]T, error) {
	normalized, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(normalized)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return decodeTail[T](file, normalized, limit)
}

func decodeTail[T any](r io.Reader, name string, limit int) ([]T, error) {
	var out []T
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrDecodeFailed, name, line, err)
		}
		out = append(out, item)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
