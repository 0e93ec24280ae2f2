package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"runtime/metrics"
	"strings"
	"text/tabwriter"
	"time"
)

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsBytes   uint64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:bytes"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		if s.Value.Kind() == metrics.KindBad {
			continue
		}
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:bytes":
			out.heapAllocsBytes = s.Value.Uint64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

// percentile expects sorted durations and uses the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func avgPause(after, before runtime.MemStats) time.Duration {
	gcCount := after.NumGC - before.NumGC
	if gcCount == 0 {
		return 0
	}
	return time.Duration((after.PauseTotalNs - before.PauseTotalNs) / uint64(gcCount))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	GC         gcInfo         `json:"gc"`
	Wire       wireInfo       `json:"wire"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile        string  `json:"profile"`
	Clients        int     `json:"clients"`
	DurationMS     int64   `json:"duration_ms"`
	RPSPerClient   float64 `json:"rps_per_client"`
	ShoutEvery     int     `json:"shout_every"`
	PayloadBytes   int     `json:"payload_bytes"`
	MaxProcs       int     `json:"max_procs"`
	MemLimitBytes  int64   `json:"mem_limit_bytes"`
	EventTimeoutMS int64   `json:"event_timeout_ms"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	EventsTotal        uint64  `json:"events_total"`
	EventsPerSec       float64 `json:"events_per_sec"`
	EventsPerSecClient float64 `json:"events_per_sec_per_client"`
	ShoutsTotal        uint64  `json:"shouts_total"`
	BroadcastFrames    uint64  `json:"broadcast_frames_total"`
}

type gcInfo struct {
	AllocMB       float64 `json:"alloc_mb"`
	HeapLiveMB    float64 `json:"heap_live_mb"`
	NumGC         uint32  `json:"num_gc"`
	PauseTotalMS  float64 `json:"pause_total_ms"`
	PauseAvgMS    float64 `json:"pause_avg_ms"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	AllocsObjects uint64  `json:"allocs_objects"`
}

type wireInfo struct {
	EventBytesTotal uint64  `json:"event_bytes_total"`
	ReplyBytesTotal uint64  `json:"reply_bytes_total"`
	ReplyFrames     uint64  `json:"reply_frames_total"`
	AvgEventBytes   float64 `json:"avg_event_bytes"`
	AvgReplyBytes   float64 `json:"avg_reply_bytes"`
}

type errorInfo struct {
	TotalErrors        uint64 `json:"total_errors"`
	DialFailures       uint64 `json:"dial_failures"`
	EventWriteFailures uint64 `json:"event_write_failures"`
	DecodeFailures     uint64 `json:"decode_failures"`
	UnexpectedEvents   uint64 `json:"unexpected_events"`
	TokenMissing       uint64 `json:"token_missing"`
}

type runtimeSample struct {
	mem     runtime.MemStats
	metrics runtimeMetricsSnapshot
}

func sampleRuntime() runtimeSample {
	var s runtimeSample
	runtime.GC()
	runtime.ReadMemStats(&s.mem)
	s.metrics = readRuntimeMetrics()
	return s
}

// gcDelta reports allocation and collection cost between two samples.
func gcDelta(before, after runtimeSample) gcInfo {
	return gcInfo{
		AllocMB:       float64(after.mem.TotalAlloc-before.mem.TotalAlloc) / (1024 * 1024),
		HeapLiveMB:    float64(after.mem.HeapAlloc) / (1024 * 1024),
		NumGC:         after.mem.NumGC - before.mem.NumGC,
		PauseTotalMS:  ms(time.Duration(after.mem.PauseTotalNs - before.mem.PauseTotalNs)),
		PauseAvgMS:    ms(avgPause(after.mem, before.mem)),
		GCCPUFraction: cpuFraction(after.metrics, before.metrics),
		AllocsObjects: after.metrics.heapAllocsObjects - before.metrics.heapAllocsObjects,
	}
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errCounts *benchErrors,
	before runtimeSample,
	after runtimeSample,
) benchReport {
	eventsTotal := counters.eventsComplete.Load()
	eventsSent := counters.eventsSent.Load()
	eventBytes := counters.eventBytes.Load()
	replyBytes := counters.replyBytes.Load()

	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	eventsPerSec := float64(eventsTotal) / elapsedSeconds

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	avgEventBytes := 0.0
	if eventsSent > 0 {
		avgEventBytes = float64(eventBytes) / float64(eventsSent)
	}
	avgReplyBytes := 0.0
	if eventsTotal > 0 {
		avgReplyBytes = float64(replyBytes) / float64(eventsTotal)
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:        cfg.Profile,
			Clients:        cfg.Clients,
			DurationMS:     cfg.Duration.Milliseconds(),
			RPSPerClient:   cfg.RPS,
			ShoutEvery:     cfg.ShoutEvery,
			PayloadBytes:   cfg.PayloadBytes,
			MaxProcs:       cfg.MaxProcs,
			MemLimitBytes:  cfg.MemLimitBytes,
			EventTimeoutMS: cfg.EventTimeout.Milliseconds(),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			EventsTotal:        eventsTotal,
			EventsPerSec:       eventsPerSec,
			EventsPerSecClient: eventsPerSec / float64(cfg.Clients),
			ShoutsTotal:        counters.shoutsSent.Load(),
			BroadcastFrames:    counters.broadcastFrames.Load(),
		},
		GC: gcDelta(before, after),
		Wire: wireInfo{
			EventBytesTotal: eventBytes,
			ReplyBytesTotal: replyBytes,
			ReplyFrames:     counters.replyFrames.Load(),
			AvgEventBytes:   avgEventBytes,
			AvgReplyBytes:   avgReplyBytes,
		},
		Errors: errorInfo{
			TotalErrors:        errCounts.totalErrors.Load(),
			DialFailures:       errCounts.dialFailures.Load(),
			EventWriteFailures: errCounts.eventWriteFailures.Load(),
			DecodeFailures:     errCounts.decodeFailures.Load(),
			UnexpectedEvents:   errCounts.unexpectedEvents.Load(),
			TokenMissing:       errCounts.tokenMissing.Load(),
		},
	}
}

// writeSummary prints the human-readable report, one aligned section per
// concern.
func writeSummary(w io.Writer, report benchReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	wl := report.Workload
	fmt.Fprintln(tw, "=== Cable Load Benchmark ===")
	fmt.Fprintf(tw, "profile\t%s\n", wl.Profile)
	fmt.Fprintf(tw, "clients\t%d\n", wl.Clients)
	fmt.Fprintf(tw, "duration\t%s\n", time.Duration(wl.DurationMS)*time.Millisecond)
	fmt.Fprintf(tw, "rate\t%.2f events/s per client\n", wl.RPSPerClient)
	if wl.ShoutEvery > 0 {
		fmt.Fprintf(tw, "broadcast\t1 in %d events\n", wl.ShoutEvery)
	}
	fmt.Fprintf(tw, "payload\t%d bytes\n", wl.PayloadBytes)
	if wl.MaxProcs > 0 {
		fmt.Fprintf(tw, "GOMAXPROCS\t%d\n", wl.MaxProcs)
	}
	if wl.MemLimitBytes > 0 {
		fmt.Fprintf(tw, "GOMEMLIMIT\t%.2f GiB\n", float64(wl.MemLimitBytes)/float64(gib))
	}

	tp := report.Throughput
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "events\t%d\n", tp.EventsTotal)
	fmt.Fprintf(tw, "throughput\t%.1f events/s (%.2f per client)\n", tp.EventsPerSec, tp.EventsPerSecClient)
	if tp.ShoutsTotal > 0 {
		fmt.Fprintf(tw, "broadcasts\t%d sent, %d frames fanned out\n", tp.ShoutsTotal, tp.BroadcastFrames)
	}
	fmt.Fprintf(tw, "errors\t%d\n", report.Errors.TotalErrors)

	fmt.Fprintln(tw)
	if lat := report.LatencyMS; lat.Max == 0 {
		fmt.Fprintln(tw, "no latency samples recorded")
	} else {
		fmt.Fprintln(tw, "round trip (send, dispatch, receive, decode)")
		fmt.Fprintf(tw, "  min / p50\t%.2f / %.2f ms\n", lat.Min, lat.P50)
		fmt.Fprintf(tw, "  p95 / p99\t%.2f / %.2f ms\n", lat.P95, lat.P99)
		fmt.Fprintf(tw, "  max\t%.2f ms\n", lat.Max)
	}

	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "bytes per event\t%.1f out, %.1f back\n", report.Wire.AvgEventBytes, report.Wire.AvgReplyBytes)

	gc := report.GC
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "runtime (process-wide)")
	fmt.Fprintf(tw, "  allocated\t%.2f MB in %d objects\n", gc.AllocMB, gc.AllocsObjects)
	fmt.Fprintf(tw, "  live heap\t%.2f MB\n", gc.HeapLiveMB)
	fmt.Fprintf(tw, "  collections\t%d (pause %.2f ms total, %.2f ms avg)\n", gc.NumGC, gc.PauseTotalMS, gc.PauseAvgMS)
	fmt.Fprintf(tw, "  gc cpu\t%.2f%%\n", gc.GCCPUFraction*100)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("CABLE_GIT_COMMIT")); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv("GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
