package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/oauth-bearer-go/auth"
)

// FileOption configures a File directory.
type FileOption func(*File)

// WithLogger sets the logger used to report reloads. Defaults to slog.Default().
func WithLogger(l *slog.Logger) FileOption {
	return func(f *File) { f.log = l }
}

// reloadDelay coalesces the bursts of events produced by a single save.
const reloadDelay = 50 * time.Millisecond

// errEmptyFile is returned by readFile for a file with no content. Writers
// that truncate before writing expose this state briefly.
var errEmptyFile = errors.New("directory: file is empty")

// fileDocument is the on-disk layout:
//
//	users:
//	  - key: alice
//	    roles: [ROLE_ADMIN]
//	    locked: false
//	    account_expires_at: 2030-01-01T00:00:00Z
type fileDocument struct {
	Users []User `yaml:"users"`
}

// File is a directory loaded from a YAML file and reloaded whenever the file
// changes. A reload that fails or finds an empty file keeps the previous
// snapshot.
type File struct {
	path string
	log  *slog.Logger

	users atomic.Pointer[map[string]*User]

	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ auth.UserDirectory = (*File)(nil)

// NewFile loads path and starts watching it. The watch stops when ctx is
// cancelled or Close is called.
func NewFile(ctx context.Context, path string, opts ...FileOption) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("directory: resolve %s: %w", path, err)
	}
	f := &File{path: abs, log: slog.Default(), done: make(chan struct{})}
	for _, opt := range opts {
		opt(f)
	}

	users, err := readFile(abs)
	if err != nil {
		return nil, err
	}
	f.users.Store(&users)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("directory: create watcher: %w", err)
	}
	// Watch the parent so atomic replace-by-rename is observed.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("directory: watch %s: %w", filepath.Dir(abs), err)
	}
	f.watcher = w

	wctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.watch(wctx)

	return f, nil
}

func readFile(path string) (map[string]*User, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("directory: read %s: %w", path, errEmptyFile)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("directory: parse %s: %w", path, err)
	}
	for i, u := range doc.Users {
		if u.Key == "" {
			return nil, fmt.Errorf("directory: parse %s: user %d has no key", path, i)
		}
	}
	return index(doc.Users), nil
}

func (f *File) watch(ctx context.Context) {
	defer close(f.done)
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = f.watcher.Close()
	}()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			pending = nil
			f.reload(ctx)
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			pending = timer.C
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.WarnContext(ctx, "directory.watch.err", slog.String("path", f.path), slog.String("err", err.Error()))
		}
	}
}

func (f *File) reload(ctx context.Context) {
	users, err := readFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, errEmptyFile) {
			f.log.DebugContext(ctx, "directory.reload.skip", slog.String("path", f.path), slog.String("err", err.Error()))
			return
		}
		f.log.WarnContext(ctx, "directory.reload.fail", slog.String("path", f.path), slog.String("err", err.Error()))
		return
	}
	f.users.Store(&users)
	f.log.InfoContext(ctx, "directory.reload.ok", slog.String("path", f.path), slog.Int("users", len(users)))
}

func (f *File) LoadIdentity(ctx context.Context, key string) (auth.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users := *f.users.Load()
	u, ok := users[key]
	if !ok {
		return nil, auth.ErrIdentityNotFound
	}
	return u.clone(), nil
}

// Close stops watching the file. The last loaded snapshot remains readable.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		<-f.done
	})
	return nil
}
