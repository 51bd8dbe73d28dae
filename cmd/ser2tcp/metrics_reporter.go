package main

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/irctrakz/ser2tcp/pkg/logging"
	"github.com/irctrakz/ser2tcp/pkg/metrics"
	"github.com/irctrakz/ser2tcp/pkg/pipeline"
	"github.com/irctrakz/ser2tcp/pkg/stats"
)

type metricsSnapshot struct {
	Timestamp   string              `json:"ts"`
	Connections []pipeline.Snapshot `json:"connections"`
	RT          map[string]uint64   `json:"rt"`
}

// runSnapshotReporter logs a snapshot of every pipeline each interval until
// ctx is cancelled.
func runSnapshotReporter(ctx context.Context, src metrics.Source, interval time.Duration, format string) {
	format = strings.ToLower(strings.TrimSpace(format))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dumpMetrics(src, format)
		}
	}
}

func dumpMetrics(src metrics.Source, format string) {
	for _, line := range formatSnapshot(takeSnapshot(src, time.Now()), format) {
		logging.Infof("metrics: %s", line)
	}
}

func takeSnapshot(src metrics.Source, now time.Time) metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return metricsSnapshot{
		Timestamp:   now.UTC().Format(time.RFC3339),
		Connections: src.Snapshots(),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
}

// formatSnapshot renders one JSON document, or one text line per
// connection followed by a runtime line.
func formatSnapshot(snap metricsSnapshot, format string) []string {
	if format == "json" {
		b, err := json.Marshal(snap)
		if err != nil {
			return []string{fmt.Sprintf("ts=%s error=%q", snap.Timestamp, err)}
		}
		return []string{string(b)}
	}

	lines := make([]string, 0, len(snap.Connections)+1)
	for _, c := range snap.Connections {
		lines = append(lines, fmt.Sprintf("ts=%s conn=%d addr=%s state=%s serial=%s port=%q clients=%d | net: tx=%s rx=%s | serial: rx=%s tx=%s | buf: dev=%d net=%d",
			snap.Timestamp, c.Index, c.Address, c.State, c.Broker, c.PortName, c.Clients,
			flowText(c.NetworkTX), flowText(c.NetworkRX),
			flowText(c.SerialRX), flowText(c.SerialTX),
			c.ToDevice, c.ToNetwork,
		))
	}
	lines = append(lines, fmt.Sprintf("ts=%s rt: heap=%dMi inuse=%dMi gor=%d gc=%d",
		snap.Timestamp,
		snap.RT["heap_alloc"]/(1024*1024), snap.RT["heap_inuse"]/(1024*1024),
		snap.RT["goroutines"], snap.RT["num_gc"],
	))
	return lines
}

func flowText(t pipeline.Throughput) string {
	rate := "N/A"
	if t.RateOK {
		rate = stats.ToBits(t.Rate) + "/s"
	}
	return fmt.Sprintf("%s@%s", stats.ToBits(t.Bytes), rate)
}
