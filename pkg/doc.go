// Package pkg provides shared utilities for the softmmc host-controller glue.
//
// It contains the pieces every other package leans on:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for acquisition failures and steady-state anomalies
//   - Component identifiers for log filtering
//
// # Logging
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentClock, "card clock programmed", "hz", 400000)
//
// # Errors
//
// Acquisition errors are distinct sentinels so a caller can decide which ones
// it tolerates:
//
//	if errors.Is(err, pkg.ErrRegulatorNotFound) {
//	    // Supply missing
//	}
package pkg
