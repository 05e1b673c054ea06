// Package metrics exports the live socket table as Prometheus metrics, the
// way a deployed instance of the engine would be scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polarwind/tcpcore/tcp"
)

// Collector implements prometheus.Collector over a *tcp.Table. It is
// grounded on runZeroInc/sockstats's pkg/exporter.TCPInfoCollector
// (Describe/Collect iterating a mutex-guarded connection map, one metric
// family per field of interest), generalized from polling a real kernel
// TCP_INFO struct via a file descriptor to reading our own Conn.Stats()
// snapshot, taken under each connection's own mutex.
type Collector struct {
	table       *tcp.Table
	constLabels prometheus.Labels

	cwnd          *prometheus.Desc
	ssthresh      *prometheus.Desc
	rtoSeconds    *prometheus.Desc
	bytesInFlight *prometheus.Desc
	retransmits   *prometheus.Desc
	state         *prometheus.Desc
	connCount     *prometheus.Desc
}

// NewCollector returns a Collector scraping table. constLabels attaches
// process-wide labels (hostname, app) the way exporter.NewTCPInfoCollector's
// constLabels parameter does.
func NewCollector(table *tcp.Table, constLabels prometheus.Labels) *Collector {
	labelNames := []string{"conn_id", "local_addr", "remote_addr"}
	return &Collector{
		table:       table,
		constLabels: constLabels,
		cwnd: prometheus.NewDesc("tcpcore_cwnd_bytes",
			"Current congestion window.", labelNames, constLabels),
		ssthresh: prometheus.NewDesc("tcpcore_ssthresh_bytes",
			"Current slow-start threshold.", labelNames, constLabels),
		rtoSeconds: prometheus.NewDesc("tcpcore_rto_seconds",
			"Current retransmission timeout.", labelNames, constLabels),
		bytesInFlight: prometheus.NewDesc("tcpcore_bytes_in_flight",
			"Bytes sent but not yet acknowledged.", labelNames, constLabels),
		retransmits: prometheus.NewDesc("tcpcore_retransmits_total",
			"Fast-retransmit and RTO loss-recovery entries over the connection's life.",
			labelNames, constLabels),
		state: prometheus.NewDesc("tcpcore_conn_state",
			"Connection FSM state, labeled with its string name; value is always 1.",
			append(labelNames, "state"), constLabels),
		connCount: prometheus.NewDesc("tcpcore_connections",
			"Number of connections registered in the socket table.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.cwnd
	descs <- c.ssthresh
	descs <- c.rtoSeconds
	descs <- c.bytesInFlight
	descs <- c.retransmits
	descs <- c.state
	descs <- c.connCount
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	n := 0
	c.table.Each(func(conn *tcp.Conn) {
		n++
		s := conn.Stats()
		labels := []string{s.ID, s.LocalAddr.String(), s.RemoteAddr.String()}

		metrics <- prometheus.MustNewConstMetric(c.cwnd, prometheus.GaugeValue, float64(s.Cwnd), labels...)
		metrics <- prometheus.MustNewConstMetric(c.ssthresh, prometheus.GaugeValue, float64(s.Ssthresh), labels...)
		metrics <- prometheus.MustNewConstMetric(c.rtoSeconds, prometheus.GaugeValue, s.RTO.Seconds(), labels...)
		metrics <- prometheus.MustNewConstMetric(c.bytesInFlight, prometheus.GaugeValue, float64(s.BytesInFlight), labels...)
		metrics <- prometheus.MustNewConstMetric(c.retransmits, prometheus.CounterValue, float64(s.Retransmits), labels...)
		metrics <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, 1,
			append(labels, s.State.String())...)
	})
	metrics <- prometheus.MustNewConstMetric(c.connCount, prometheus.GaugeValue, float64(n))
}
