package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingFileConfig configures a FileObserver.
type RotatingFileConfig struct {
	Dir         string // directory holding the per-level log files
	BaseName    string // filename prefix, e.g. "blip"
	MaxFileSize int64  // rotate once the active file exceeds this size
	MaxFiles    int    // keep at most this many rotated files per level
	Level       Level  // minimum level written to disk
}

// FileObserver writes entries to size-rotated files, one active file per
// level plus up to MaxFiles numbered backups, the same scheme the host
// database engine uses for its own log directory.
type FileObserver struct {
	mu     sync.Mutex
	cfg    RotatingFileConfig
	active map[Level]*os.File
	size   map[Level]int64
}

// NewFileObserver opens (creating as needed) cfg.Dir for writing.
func NewFileObserver(cfg RotatingFileConfig) (*FileObserver, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: creating log dir: %w", err)
	}
	return &FileObserver{
		cfg:    cfg,
		active: map[Level]*os.File{},
		size:   map[Level]int64{},
	}, nil
}

func (f *FileObserver) activePath(level Level) string {
	return filepath.Join(f.cfg.Dir, fmt.Sprintf("%s_%s.log", f.cfg.BaseName, level))
}

func (f *FileObserver) backupPath(level Level, n int) string {
	return filepath.Join(f.cfg.Dir, fmt.Sprintf("%s_%s.%d.log", f.cfg.BaseName, level, n))
}

// Observe implements Observer.
func (f *FileObserver) Observe(e Entry) {
	if e.Level < f.cfg.Level {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := f.fileFor(e.Level)
	if err != nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s %s\n",
		e.Timestamp.Format(time.RFC3339Nano), e.Level, e.ObjectPath, e.Message)
	n, err := file.WriteString(line)
	if err != nil {
		return
	}
	f.size[e.Level] += int64(n)
	if f.size[e.Level] >= f.cfg.MaxFileSize {
		f.rotate(e.Level)
	}
}

func (f *FileObserver) fileFor(level Level) (*os.File, error) {
	if file, ok := f.active[level]; ok {
		return file, nil
	}
	file, err := os.OpenFile(f.activePath(level), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, _ := file.Stat()
	if info != nil {
		f.size[level] = info.Size()
	}
	f.active[level] = file
	return file, nil
}

// rotate closes the active file for level, shifts numbered backups up by
// one slot (dropping the oldest once MaxFiles is exceeded), and opens a
// fresh active file.
func (f *FileObserver) rotate(level Level) {
	file := f.active[level]
	delete(f.active, level)
	delete(f.size, level)
	if file != nil {
		_ = file.Close()
	}
	for n := f.cfg.MaxFiles - 1; n >= 1; n-- {
		src := f.backupPath(level, n)
		dst := f.backupPath(level, n+1)
		if n+1 > f.cfg.MaxFiles {
			_ = os.Remove(src)
			continue
		}
		_ = os.Rename(src, dst)
	}
	_ = os.Rename(f.activePath(level), f.backupPath(level, 1))
}

// Close closes every open file handle.
func (f *FileObserver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, file := range f.active {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Files lists the on-disk files currently held for level, active file
// first, sorted oldest-backup-last.
func (f *FileObserver) Files(level Level) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	if _, err := os.Stat(f.activePath(level)); err == nil {
		out = append(out, f.activePath(level))
	}
	var backups []string
	for n := 1; n <= f.cfg.MaxFiles; n++ {
		p := f.backupPath(level, n)
		if _, err := os.Stat(p); err == nil {
			backups = append(backups, p)
		}
	}
	return append(out, backups...)
}
