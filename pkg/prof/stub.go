//go:build !profile

package prof

// ErrActive is never returned by the stub build.
var ErrActive error

// Options selects which profiles a session captures. Ignored without the
// "profile" build tag.
type Options struct {
	CPUPath   string
	HeapPath  string
	MutexPath string
	MutexRate int
}

// Start is a no-op when built without the "profile" tag.
func Start(Options) (stop func() error, err error) {
	return func() error { return nil }, nil
}

// Enabled reports whether the binary was built with profiling support.
func Enabled() bool { return false }
