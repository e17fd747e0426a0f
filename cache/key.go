package cache

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached digest. Two computations share a Key only when the
// file path, algorithm, block size, size and modification time all match, so
// a change to the file's size or mtime always produces a new Key.
type Key struct {
	// Path is absolute and cleaned.
	Path      string
	Algorithm string
	// BlockSize is 0 when the caller used the default block size.
	BlockSize int
	Size      int64
	// ModTime is the modification time in Unix nanoseconds.
	ModTime int64
}

// NewKey builds a Key, making path absolute. defaultBlockSize is folded onto
// the 0 sentinel so "default" and the explicit default value share entries.
func NewKey(path, algorithm string, blockSize, defaultBlockSize int, size int64, modTime time.Time) (Key, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Key{}, err
	}
	if blockSize == defaultBlockSize {
		blockSize = 0
	}
	return Key{
		Path:      filepath.Clean(abs),
		Algorithm: algorithm,
		BlockSize: blockSize,
		Size:      size,
		ModTime:   modTime.UnixNano(),
	}, nil
}

// String is the canonical encoding of all five fields.
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteString(k.Algorithm)
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(k.BlockSize))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(k.Size, 10))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(k.ModTime, 10))
	sb.WriteByte('|')
	sb.WriteString(k.Path)
	return sb.String()
}

// ID is a compact fixed width identifier for backends that need a string
// primary key. Backends keep the full Key next to the ID and treat a
// mismatch as a miss, so an ID collision can never return a wrong digest.
func (k Key) ID() string {
	return strconv.FormatUint(xxhash.Sum64String(k.String()), 16)
}

// Record is one cached digest. Stores only insert or replace whole records.
type Record struct {
	Key       Key
	Digest    string
	CreatedAt time.Time
}

// wireRecord is the serialized form shared by every persistent backend.
type wireRecord struct {
	Path      string `msgpack:"p"`
	Algorithm string `msgpack:"a"`
	BlockSize int    `msgpack:"b"`
	Size      int64  `msgpack:"s"`
	ModTime   int64  `msgpack:"m"`
	Digest    string `msgpack:"d"`
	CreatedAt int64  `msgpack:"c"`
}

func toWire(r Record) wireRecord {
	return wireRecord{
		Path:      r.Key.Path,
		Algorithm: r.Key.Algorithm,
		BlockSize: r.Key.BlockSize,
		Size:      r.Key.Size,
		ModTime:   r.Key.ModTime,
		Digest:    r.Digest,
		CreatedAt: r.CreatedAt.UnixNano(),
	}
}

func (w wireRecord) record() Record {
	return Record{
		Key: Key{
			Path:      w.Path,
			Algorithm: w.Algorithm,
			BlockSize: w.BlockSize,
			Size:      w.Size,
			ModTime:   w.ModTime,
		},
		Digest:    w.Digest,
		CreatedAt: time.Unix(0, w.CreatedAt).UTC(),
	}
}
