package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

const perfStatsInterval = 30 * time.Second

var perfMeter = otel.Meter("skyassist.lib.telemetry.perf_stats")
var hostCpuGauge, _ = perfMeter.Float64Gauge("host_cpu_usage")
var processCpuGauge, _ = perfMeter.Float64Gauge("process_cpu_usage")
var residentGauge, _ = perfMeter.Int64Gauge("resident_mb")
var allocatedGauge, _ = perfMeter.Int64Gauge("allocated_mb")
var liveObjectsGauge, _ = perfMeter.Int64Gauge("live_objects")
var goroutineGauge, _ = perfMeter.Int64Gauge("goroutine_count")

type perfSample struct {
	HostCpu     float64
	ProcessCpu  float64
	ResidentMb  int64
	AllocatedMb int64
	LiveObjects int64
	Goroutines  int64
}

type perfSampler struct {
	self *process.Process
}

func newPerfSampler() perfSampler {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("process stats unavailable", "err", err)
	}
	return perfSampler{self: self}
}

// sample reads the current stats. CPU usage is measured since the previous
// sample, host or process figures that cannot be read stay zero.
func (s perfSampler) sample(ctx context.Context) perfSample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	out := perfSample{
		AllocatedMb: int64(memStats.Alloc / 1_000_000),
		LiveObjects: int64(memStats.Mallocs) - int64(memStats.Frees),
		Goroutines:  int64(runtime.NumGoroutine()),
	}

	usage, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(usage) > 0 {
		out.HostCpu = usage[0]
	} else if err != nil {
		slog.DebugContext(ctx, "failed to read host cpu usage", "err", err)
	}

	if s.self != nil {
		percent, err := s.self.CPUPercentWithContext(ctx)
		if err == nil {
			out.ProcessCpu = percent
		}
		mem, err := s.self.MemoryInfoWithContext(ctx)
		if err == nil {
			out.ResidentMb = int64(mem.RSS / 1_000_000)
		}
	}
	return out
}

func recordPerfSample(ctx context.Context, s perfSample) {
	hostCpuGauge.Record(ctx, s.HostCpu)
	processCpuGauge.Record(ctx, s.ProcessCpu)
	residentGauge.Record(ctx, s.ResidentMb)
	allocatedGauge.Record(ctx, s.AllocatedMb)
	liveObjectsGauge.Record(ctx, s.LiveObjects)
	goroutineGauge.Record(ctx, s.Goroutines)
}

// InstrumentPerfStats records host and process stats every 30 seconds until
// ctx is done.
func InstrumentPerfStats(ctx context.Context) {
	sampler := newPerfSampler()
	go func() {
		ticker := time.NewTicker(perfStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				recordPerfSample(ctx, sampler.sample(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()
}
