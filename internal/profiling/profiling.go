// Package profiling starts and stops the Go profilers for long simulator runs.
package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/felixge/fgprof"
	"go.uber.org/multierr"
)

// Options holds the destination files of the profiles. Empty paths disable the profile.
type Options struct {
	CPU    string `mapstructure:"cpu-profile"`
	Mem    string `mapstructure:"mem-profile"`
	Trace  string `mapstructure:"trace"`
	FGProf string `mapstructure:"fgprof-profile"`
}

// Enabled reports whether any profile is requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Mem != "" || o.Trace != "" || o.FGProf != ""
}

type profiler struct {
	mem   string
	stops []func() error
}

// Start starts the requested profilers. The returned function stops them and writes the heap
// profile. If a profiler fails to start, the ones already started are stopped.
func Start(opts Options) (stop func() error, err error) {
	p := &profiler{mem: opts.Mem}
	defer func() {
		if err != nil {
			err = multierr.Append(err, p.stop())
		}
	}()

	if opts.CPU != "" {
		cpuProfile, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(cpuProfile); err != nil {
			return nil, multierr.Append(err, cpuProfile.Close())
		}
		p.stops = append(p.stops, func() error {
			pprof.StopCPUProfile()
			return cpuProfile.Close()
		})
	}

	if opts.FGProf != "" {
		fgprofProfile, err := os.Create(opts.FGProf)
		if err != nil {
			return nil, err
		}
		fgprofStop := fgprof.Start(fgprofProfile, fgprof.FormatPprof)
		p.stops = append(p.stops, func() error {
			return multierr.Append(fgprofStop(), fgprofProfile.Close())
		})
	}

	if opts.Trace != "" {
		traceFile, err := os.Create(opts.Trace)
		if err != nil {
			return nil, err
		}
		if err := trace.Start(traceFile); err != nil {
			return nil, multierr.Append(err, traceFile.Close())
		}
		p.stops = append(p.stops, func() error {
			trace.Stop()
			return traceFile.Close()
		})
	}

	return func() error {
		return multierr.Append(p.writeHeap(), p.stop())
	}, nil
}

func (p *profiler) writeHeap() error {
	if p.mem == "" {
		return nil
	}
	f, err := os.Create(p.mem)
	if err != nil {
		return err
	}
	runtime.GC() // get up-to-date statistics
	return multierr.Append(pprof.WriteHeapProfile(f), f.Close())
}

// stop stops the profilers in reverse order.
func (p *profiler) stop() (err error) {
	for i := len(p.stops) - 1; i >= 0; i-- {
		err = multierr.Append(err, p.stops[i]())
	}
	p.stops = nil
	return err
}
