// Command cable-bench drives an in-process cable server with concurrent
// websocket clients and reports round-trip latency, throughput and GC cost.
//
//	cable-bench --profile fast
//	cable-bench -c 1000 -d 1m --rps 20 --shout-every 10 --json out.json
package main

import (
	"context"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
	"time"
)

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
	if cfg.MemLimitBytes > 0 {
		debug.SetMemoryLimit(cfg.MemLimitBytes)
	}
	debug.SetGCPercent(100)

	report, err := run(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}

	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

// run starts the server, runs cfg.Clients clients for cfg.Duration and
// builds the report.
func run(ctx context.Context, cfg benchConfig) (benchReport, error) {
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	srv, err := startServer(srvCtx, cfg.Clients)
	if err != nil {
		return benchReport{}, err
	}
	defer func() {
		_ = srv.Stop(context.Background())
	}()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samples = append(samples, rtt)
		}
	}()

	var counters benchCounters
	var errCounts benchErrors

	before := sampleRuntime()

	start := time.Now()
	var wg sync.WaitGroup
	for i := range cfg.Clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runClient(runCtx, srv.URL(), i, cfg, &counters, &errCounts, samplesCh); err != nil {
				errCounts.totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	elapsed := time.Since(start)
	after := sampleRuntime()

	slices.Sort(samples)
	return buildReport(cfg, elapsed, samples, &counters, &errCounts, before, after), nil
}

func sampleBuffer(clients int) int {
	return max(1024, clients*4)
}
