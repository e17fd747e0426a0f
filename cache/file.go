package cache

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// tableVersion is bumped whenever the on-disk layout changes; a table with a
// different version is treated as corrupt and discarded.
const tableVersion = 1

type table struct {
	Version int          `msgpack:"v"`
	Records []wireRecord `msgpack:"r"`
}

type fileStore struct {
	location string
	cfg      config

	loadOnce sync.Once
	mutex    sync.RWMutex
	records  map[Key]Record
	// changes since the last successful save
	dirty   map[Key]struct{}
	evicted map[Key]struct{}

	saveMutex sync.Mutex
}

var _ Store = (*fileStore)(nil)

// Load returns a Store persisted as a single msgpack table at location. The
// table is read lazily on first access. A missing table starts empty; an
// unreadable or unparseable one is logged as ErrCacheCorrupt and also starts
// empty, so a damaged cache never blocks checksum computation.
//
// Save writes the whole table to a temporary file next to location and
// renames it into place. Concurrent processes sharing location are serialized
// by an advisory lock and their entries merged, the newer record winning per
// key.
func Load(location string, opts ...Option) Store {
	return &fileStore{
		location: location,
		cfg:      applyOptions(opts),
		dirty:    make(map[Key]struct{}),
		evicted:  make(map[Key]struct{}),
	}
}

func (f *fileStore) ensureLoaded() {
	f.loadOnce.Do(func() {
		records, err := f.readTable()
		if err != nil {
			f.cfg.logger.Warn("ignoring cache table %s: %s", f.location, err)
		}
		f.mutex.Lock()
		f.records = records
		f.mutex.Unlock()
	})
}

// readTable always returns a usable map, even alongside an error.
func (f *fileStore) readTable() (map[Key]Record, error) {
	records := make(map[Key]Record)
	data, err := os.ReadFile(f.location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return records, errors.Mark(errors.Wrap(err, "read"), ErrCacheCorrupt)
	}
	var t table
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return records, errors.Mark(errors.Wrap(err, "decode"), ErrCacheCorrupt)
	}
	if t.Version != tableVersion {
		return records, errors.Wrapf(ErrCacheCorrupt, "unsupported table version %d", t.Version)
	}
	for _, w := range t.Records {
		rec := w.record()
		records[rec.Key] = rec
	}
	return records, nil
}

func (f *fileStore) Get(_ context.Context, key Key) (Record, bool, error) {
	f.ensureLoaded()
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	rec, ok := f.records[key]
	return rec, ok, nil
}

func (f *fileStore) Put(_ context.Context, record Record) error {
	f.ensureLoaded()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.records[record.Key] = record
	f.dirty[record.Key] = struct{}{}
	delete(f.evicted, record.Key)
	return nil
}

func (f *fileStore) EvictStale(_ context.Context, keep func(Record) bool) (int, error) {
	f.ensureLoaded()
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var removed int
	for key, rec := range f.records {
		if !keep(rec) {
			delete(f.records, key)
			delete(f.dirty, key)
			f.evicted[key] = struct{}{}
			removed++
		}
	}
	return removed, nil
}

func (f *fileStore) Len(_ context.Context) (int, error) {
	f.ensureLoaded()
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.records), nil
}

func (f *fileStore) Save(_ context.Context) error {
	f.ensureLoaded()
	f.saveMutex.Lock()
	defer f.saveMutex.Unlock()

	f.mutex.RLock()
	pending := len(f.dirty) + len(f.evicted)
	f.mutex.RUnlock()
	if pending == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.location), 0o755); err != nil {
		return errors.Mark(errors.Wrap(err, "create cache directory"), ErrCacheWriteFailure)
	}
	unlock, err := lockFile(f.location + ".lock")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "lock cache table"), ErrCacheWriteFailure)
	}
	defer unlock()

	base, err := f.readTable()
	f.mutex.Lock()
	if err != nil {
		f.cfg.logger.Warn("overwriting cache table %s: %s", f.location, err)
		// nothing trustworthy on disk, so everything this handle knows is kept
		base = make(map[Key]Record, len(f.records))
		for key, rec := range f.records {
			base[key] = rec
		}
	}
	// the table on disk is authoritative for clean records: entries another
	// handle pruned stay pruned
	for key := range f.evicted {
		delete(base, key)
	}
	for key := range f.dirty {
		ours, ok := f.records[key]
		if !ok {
			continue
		}
		if theirs, ok := base[key]; ok && theirs.CreatedAt.After(ours.CreatedAt) {
			continue
		}
		base[key] = ours
	}
	f.records = base
	snapshot := make([]wireRecord, 0, len(base))
	for _, rec := range base {
		snapshot = append(snapshot, toWire(rec))
	}
	dirty, evicted := f.dirty, f.evicted
	f.dirty = make(map[Key]struct{})
	f.evicted = make(map[Key]struct{})
	f.mutex.Unlock()

	slices.SortFunc(snapshot, func(a, b wireRecord) int {
		return strings.Compare(a.record().Key.String(), b.record().Key.String())
	})
	if err := writeAtomic(f.location, table{Version: tableVersion, Records: snapshot}); err != nil {
		f.mutex.Lock()
		for key := range dirty {
			f.dirty[key] = struct{}{}
		}
		for key := range evicted {
			if _, readded := f.records[key]; !readded {
				f.evicted[key] = struct{}{}
			}
		}
		f.mutex.Unlock()
		return errors.Mark(err, ErrCacheWriteFailure)
	}
	f.cfg.logger.Debug("saved %d cache records to %s", len(snapshot), f.location)
	return nil
}

func (f *fileStore) Close(ctx context.Context) error {
	return f.Save(ctx)
}

func writeAtomic(location string, t table) (err error) {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode cache table")
	}
	tmp, err := os.CreateTemp(filepath.Dir(location), filepath.Base(location)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temporary cache table")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temporary cache table")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temporary cache table")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temporary cache table")
	}
	if err = os.Rename(tmp.Name(), location); err != nil {
		return errors.Wrap(err, "replace cache table")
	}
	return nil
}
