//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrActive indicates a profiling session is already running.
	ErrActive = errors.New("profiling session already active")
)

// Options selects which profiles a session captures. Empty paths are skipped.
type Options struct {
	CPUPath   string // CPU profile, streamed for the whole session
	HeapPath  string // heap snapshot written at stop
	MutexPath string // mutex contention snapshot written at stop
	MutexRate int    // runtime.SetMutexProfileFraction value while active
}

var (
	mu     sync.Mutex
	active bool
)

// Start begins a profiling session and returns the function that ends it.
// The returned stop function writes the snapshot profiles and reports the
// first error it hit.
func Start(opts Options) (stop func() error, err error) {
	mu.Lock()
	defer mu.Unlock()

	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if opts.CPUPath != "" {
		if cpu, err = os.Create(opts.CPUPath); err != nil {
			return nil, err
		}
		if err = pprof.StartCPUProfile(cpu); err != nil {
			cpu.Close()
			return nil, err
		}
	}

	prevRate := runtime.SetMutexProfileFraction(opts.MutexRate)
	active = true

	return func() error {
		mu.Lock()
		defer mu.Unlock()

		if !active {
			return nil
		}
		active = false

		var errs []error
		if cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, cpu.Close())
		}
		if opts.HeapPath != "" {
			runtime.GC()
			errs = append(errs, snapshot("heap", opts.HeapPath))
		}
		if opts.MutexPath != "" {
			errs = append(errs, snapshot("mutex", opts.MutexPath))
		}
		runtime.SetMutexProfileFraction(prevRate)
		return errors.Join(errs...)
	}, nil
}

// Enabled reports whether the binary was built with profiling support.
func Enabled() bool { return true }

func snapshot(name, path string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("prof: unknown profile %q", name)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.WriteTo(f, 0)
}
