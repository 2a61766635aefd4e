// internal/preference/file.go
package preference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const sequenceField = "sequence"

// File stores the preference as a small JSON document, for example
// {"woy_enabled": true, "sequence": 12}, so separate processes can share it.
// Writes go through a temp file and a rename; readers never see a torn file.
//
// Cross-process writers are not locked against each other. Two processes
// racing a Set can both pass the sequence check; the later rename wins and
// the loser's subscribers converge on the next notification.
type File struct {
	path   string
	key    string
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]context.CancelFunc
	nextID int
	wg     sync.WaitGroup
	closed bool
}

// NewFile creates a file channel at path and makes sure its directory exists.
func NewFile(path, key string, logger *zap.Logger) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preference directory: %w", err)
	}
	return &File{
		path:   filepath.Clean(path),
		key:    key,
		logger: logger.Named("preference.file"),
		subs:   make(map[int]context.CancelFunc),
	}, nil
}

func (f *File) Get(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	return f.read()
}

func (f *File) read() (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read preference file: %w", err)
	}
	return f.decode(data)
}

func (f *File) decode(data []byte) (State, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("failed to decode preference file: %w", err)
	}
	var s State
	if raw, ok := doc[f.key]; ok {
		if err := json.Unmarshal(raw, &s.Enabled); err != nil {
			return State{}, fmt.Errorf("failed to decode %q: %w", f.key, err)
		}
	}
	if raw, ok := doc[sequenceField]; ok {
		if err := json.Unmarshal(raw, &s.Sequence); err != nil {
			return State{}, fmt.Errorf("failed to decode %q: %w", sequenceField, err)
		}
	}
	return s, nil
}

func (f *File) Set(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	current, err := f.read()
	if err != nil {
		// A corrupt file is overwritten rather than wedging every writer.
		f.logger.Warn("Replacing unreadable preference file.", zap.Error(err))
		current = State{}
	}
	if s.Sequence < current.Sequence {
		return ErrStale
	}

	data, err := json.Marshal(map[string]interface{}{f.key: s.Enabled, sequenceField: s.Sequence})
	if err != nil {
		return fmt.Errorf("failed to encode preference: %w", err)
	}
	return f.writeAtomic(data)
}

func (f *File) writeAtomic(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".woy-pref-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace preference file: %w", err)
	}
	return nil
}

// Subscribe watches the parent directory, since a rename replaces the inode
// a direct file watch would hold.
func (f *File) Subscribe(ctx context.Context, fn func(Delta)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch preference dir: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	id := f.nextID
	f.nextID++
	f.subs[id] = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer watcher.Close()
		f.watch(subCtx, watcher, fn)
	}()

	return func() {
		cancel()
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}, nil
}

func (f *File) watch(ctx context.Context, watcher *fsnotify.Watcher, fn func(Delta)) {
	var last *State
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			s, err := f.read()
			if err != nil {
				// Likely a partial write from a foreign editor; the next event re-reads.
				f.logger.Debug("Skipping unreadable preference change.", zap.Error(err))
				continue
			}
			if last != nil && *last == s {
				continue
			}
			last = &s
			fn(DeltaOf(s))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("Preference watcher error.", zap.Error(err))
		}
	}
}

// Close stops every subscription and waits for the watchers to exit.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for id, cancel := range f.subs {
		cancel()
		delete(f.subs, id)
	}
	f.mu.Unlock()

	f.wg.Wait()
	return nil
}
