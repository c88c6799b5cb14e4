package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/hesto/backend/internal/domain"
	"github.com/hesto/backend/internal/logging"
)

// FileStore is a MemoryStore backed by a JSON snapshot on disk. Edits made
// to the file by another process are picked up and announced to listeners
// with OriginExternal.
type FileStore struct {
	*MemoryStore

	path string

	// last bytes this process wrote, so our own writes are not reloaded
	lastWritten []byte
	writeMu     sync.Mutex

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup

	log *logrus.Entry
}

// NewFileStore loads the snapshot at path (if any) and starts watching it
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store directory")
	}

	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		stop:        make(chan struct{}),
		log:         logging.NewLogger("store"),
	}

	values, raw, err := fs.readSnapshot()
	if err != nil {
		fs.MemoryStore.Close()
		return nil, err
	}
	if values != nil {
		// initial load is not a change anyone can observe yet
		fs.mutex.Lock()
		for k, v := range values {
			fs.data[k] = v
		}
		fs.mutex.Unlock()
		fs.lastWritten = raw
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fs.MemoryStore.Close()
		return nil, errors.Wrap(err, "create file watcher")
	}
	// Watch the directory: atomic renames replace the inode under the file
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		fs.MemoryStore.Close()
		return nil, errors.Wrap(err, "watch store directory")
	}
	fs.watcher = watcher

	fs.wg.Add(1)
	go fs.watch()

	fs.log.WithField("path", path).Info("File store opened")
	return fs, nil
}

// Set writes through to memory and then persists a snapshot
func (fs *FileStore) Set(ctx context.Context, origin domain.Origin, values map[domain.StoreKey]any) error {
	if err := fs.MemoryStore.Set(ctx, origin, values); err != nil {
		return err
	}
	return fs.persist()
}

// Close stops the watcher and the dispatcher
func (fs *FileStore) Close() error {
	select {
	case <-fs.stop:
		return nil
	default:
	}
	close(fs.stop)
	err := fs.watcher.Close()
	fs.wg.Wait()
	fs.MemoryStore.Close()
	return err
}

// Path returns the snapshot location
func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) persist() error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	data, err := json.MarshalIndent(fs.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode store snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".hesto-store-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close snapshot")
	}
	fs.lastWritten = data
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// readSnapshot returns nil values when the file does not exist yet
func (fs *FileStore) readSnapshot() (map[domain.StoreKey]json.RawMessage, []byte, error) {
	raw, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "read store snapshot")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[domain.StoreKey]json.RawMessage{}, raw, nil
	}

	var values map[domain.StoreKey]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, nil, errors.Wrap(err, "decode store snapshot")
	}
	for k := range values {
		if !domain.IsKnownKey(k) {
			delete(values, k)
		}
	}
	return values, raw, nil
}

func (fs *FileStore) watch() {
	defer fs.wg.Done()
	target := filepath.Clean(fs.path)

	for {
		select {
		case <-fs.stop:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fs.reload()
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.log.WithError(err).Warn("File watcher error")
		}
	}
}

// reload applies external edits; keys whose value did not change are not announced
func (fs *FileStore) reload() {
	fs.writeMu.Lock()
	values, raw, err := fs.readSnapshot()
	own := err == nil && bytes.Equal(raw, fs.lastWritten)
	fs.writeMu.Unlock()

	if err != nil {
		fs.log.WithError(err).Warn("Ignoring unreadable store snapshot")
		return
	}
	if own || values == nil {
		return
	}

	if err := fs.apply(domain.OriginExternal, values, true); err != nil {
		fs.log.WithError(err).Warn("Failed to apply external store edit")
		return
	}
	fs.writeMu.Lock()
	fs.lastWritten = raw
	fs.writeMu.Unlock()

	fs.log.WithField("keys", len(values)).Debug("Reloaded store snapshot after external edit")
}
