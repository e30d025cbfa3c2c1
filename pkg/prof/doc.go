// Package prof captures pprof profiles around a softmmc run.
//
// It is conditionally compiled using the "profile" build tag:
//
//	go build -tags profile ./examples/...
//
// Without the tag every function is a no-op, so the calls can stay in the
// example programs with no cost.
//
// # Usage
//
//	stop, err := prof.Start(prof.Options{
//	    CPUPath:   "cpu.prof",
//	    HeapPath:  "heap.prof",
//	    MutexRate: 1,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop()
//
// The mutex profile is the interesting one here: it shows contention on
// the per-controller lock between the presence worker and clock changes.
package prof
