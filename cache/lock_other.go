//go:build !unix

package cache

// lockFile is a no-op where flock is unavailable. Saves from one process are
// still serialized by the store's own mutex.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
