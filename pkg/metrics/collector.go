// Package metrics exports pipeline snapshots to Prometheus and serves the
// health endpoint.
package metrics

import (
	"strconv"

	"github.com/irctrakz/ser2tcp/pkg/pipeline"
	"github.com/irctrakz/ser2tcp/pkg/serial"
	"github.com/irctrakz/ser2tcp/pkg/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ser2tcp"

// Source provides the snapshots to export. *pipeline.Root implements it.
type Source interface {
	Snapshots() []pipeline.Snapshot
}

// Collector is a prometheus.Collector reading pipeline snapshots at
// scrape time.
type Collector struct {
	src Source

	bytes     *prometheus.Desc
	samples   *prometheus.Desc
	rate      *prometheus.Desc
	peakRate  *prometheus.Desc
	clients   *prometheus.Desc
	buffered  *prometheus.Desc
	connected *prometheus.Desc
	running   *prometheus.Desc
}

// NewCollector creates a Collector over src.
func NewCollector(src Source) *Collector {
	flow := []string{"connection", "side", "direction"}
	conn := []string{"connection"}
	return &Collector{
		src: src,
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_total"),
			"Bytes moved since start.", flow, nil),
		samples: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transfers_total"),
			"Non-empty transfers since start.", flow, nil),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "rate_bytes_per_second"),
			"Throughput over the recent sample window.", flow, nil),
		peakRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "peak_rate_bytes_per_second"),
			"Fastest single transfer in the recent sample window.", flow, nil),
		clients: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "network", "clients"),
			"Connected TCP clients.", conn, nil),
		buffered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "buffered_bytes"),
			"Bytes waiting in a bridge queue.", []string{"connection", "queue"}, nil),
		connected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "serial", "connected"),
			"1 when the serial port is open.", conn, nil),
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "running"),
			"1 while the connection pipeline runs.", conn, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.samples
	ch <- c.rate
	ch <- c.peakRate
	ch <- c.clients
	ch <- c.buffered
	ch <- c.connected
	ch <- c.running
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Snapshots() {
		idx := strconv.Itoa(s.Index)

		c.flow(ch, idx, "network", "tx", s.NetworkTX)
		c.flow(ch, idx, "network", "rx", s.NetworkRX)
		c.flow(ch, idx, "serial", "rx", s.SerialRX)
		c.flow(ch, idx, "serial", "tx", s.SerialTX)

		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(s.Clients), idx)
		ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.ToDevice), idx, "to_device")
		ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(s.ToNetwork), idx, "to_network")
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolValue(s.Broker == serial.StateConnected), idx)
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolValue(s.State == supervisor.StateRunning), idx)
	}
}

func (c *Collector) flow(ch chan<- prometheus.Metric, idx, side, dir string, t pipeline.Throughput) {
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, t.Bytes, idx, side, dir)
	ch <- prometheus.MustNewConstMetric(c.samples, prometheus.CounterValue, float64(t.Samples), idx, side, dir)
	if t.RateOK {
		ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, t.Rate, idx, side, dir)
	}
	ch <- prometheus.MustNewConstMetric(c.peakRate, prometheus.GaugeValue, t.PeakRate, idx, side, dir)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding the pipeline collector and the Go
// runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
