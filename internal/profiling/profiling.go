// Package profiling captures pprof and trace output for performance
// work on the retrieval engine.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Session holds the profile outputs running for the current process.
// The zero value is an inert session whose Stop is a no-op.
type Session struct {
	cpu   *os.File
	trace *os.File
}

// Start begins CPU profiling and execution tracing for the paths that
// are non-empty. Stop must be called to flush the outputs.
func Start(cpuPath, tracePath string) (*Session, error) {
	s := &Session{}

	if cpuPath != "" {
		f, err := os.Create(cpuPath)
		if err != nil {
			return nil, fmt.Errorf("create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		s.cpu = f
	}

	if tracePath != "" {
		f, err := os.Create(tracePath)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.Stop()
			return nil, fmt.Errorf("start trace: %w", err)
		}
		s.trace = f
	}

	return s, nil
}

// Stop flushes and closes whatever the session started. Safe to call
// more than once.
func (s *Session) Stop() {
	if s.cpu != nil {
		pprof.StopCPUProfile()
		_ = s.cpu.Close()
		s.cpu = nil
	}
	if s.trace != nil {
		trace.Stop()
		_ = s.trace.Close()
		s.trace = nil
	}
}

// WriteHeap writes a point-in-time heap profile to path. A GC runs
// first so the profile reflects live objects.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
