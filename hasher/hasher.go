// Package hasher streams a byte source through a digest accumulator in
// fixed size blocks, so memory use depends on the block size and never on
// the length of the source.
package hasher

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/cockroachdb/errors"
)

// DefaultBlockSize is the read size used when the caller does not pick one.
const DefaultBlockSize = 64 * 1024

var (
	// ErrSourceUnreadable covers a missing path, a directory, denied read
	// permission and read failures. The OS error stays in the chain.
	ErrSourceUnreadable = errors.New("source unreadable")
	// ErrInvalidBlockSize is returned for a block size that is not positive.
	ErrInvalidBlockSize = errors.New("invalid block size")

	errIsDirectory = errors.New("is a directory")
)

// Digest is the hex encoded output of an algorithm over a byte source.
type Digest struct {
	Algorithm algorithm.Algorithm `json:"algorithm"`
	Hex       string              `json:"digest"`
	// Size is the number of bytes consumed from the source.
	Size int64 `json:"size"`
}

func (d Digest) String() string {
	return d.Hex
}

// Matches compares against an expected hex digest, ignoring case.
func (d Digest) Matches(expected string) bool {
	return strings.EqualFold(d.Hex, strings.TrimSpace(expected))
}

var defaultBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultBlockSize)
		return &b
	},
}

func buffer(size int) (*[]byte, func()) {
	if size == DefaultBlockSize {
		b := defaultBuffers.Get().(*[]byte)
		return b, func() { defaultBuffers.Put(b) }
	}
	b := make([]byte, size)
	return &b, func() {}
}

// Compute reads r to the end in blocks of exactly blockSize bytes (the last
// block may be shorter) and returns the digest.
func Compute(r io.Reader, alg algorithm.Algorithm, blockSize int) (Digest, error) {
	if blockSize <= 0 {
		return Digest{}, errors.Wrapf(ErrInvalidBlockSize, "%d", blockSize)
	}
	h, err := alg.New()
	if err != nil {
		return Digest{}, err
	}
	buf, release := buffer(blockSize)
	defer release()

	var total int64
	for {
		n, err := io.ReadFull(r, *buf)
		if n > 0 {
			h.Write((*buf)[:n])
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Digest{}, errors.Mark(errors.Wrap(err, "read"), ErrSourceUnreadable)
		}
	}
	return Digest{
		Algorithm: alg,
		Hex:       hex.EncodeToString(h.Sum(nil)),
		Size:      total,
	}, nil
}

// ComputeBytes digests an in-memory buffer through the same block loop.
func ComputeBytes(data []byte, alg algorithm.Algorithm) (Digest, error) {
	return Compute(bytes.NewReader(data), alg, DefaultBlockSize)
}

// ComputeFile opens path, captures its metadata from the open handle and
// streams it. The returned FileInfo describes the exact file that was read.
// The handle is closed on every return path.
func ComputeFile(path string, alg algorithm.Algorithm, blockSize int) (Digest, os.FileInfo, error) {
	if blockSize <= 0 {
		return Digest{}, nil, errors.Wrapf(ErrInvalidBlockSize, "%d", blockSize)
	}
	f, err := os.Open(path) //nolint:gosec // path is caller-provided by design
	if err != nil {
		return Digest{}, nil, unreadable(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Digest{}, nil, unreadable(path, err)
	}
	if info.IsDir() {
		return Digest{}, nil, unreadable(path, errIsDirectory)
	}
	d, err := Compute(f, alg, blockSize)
	if err != nil {
		if errors.Is(err, ErrSourceUnreadable) {
			return Digest{}, nil, errors.Wrapf(err, "%s", path)
		}
		return Digest{}, nil, err
	}
	return d, info, nil
}

func unreadable(path string, cause error) error {
	return errors.Mark(errors.Wrapf(cause, "%s", path), ErrSourceUnreadable)
}
