// Package metrics exports mesh telemetry as line protocol to an
// InfluxDB-compatible endpoint (InfluxDB 2.x or VictoriaMetrics).
package metrics

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"domator-go/internal/protocol"
	"domator-go/internal/store"
)

// ErrDisabled is returned by New when the exporter is switched off.
var ErrDisabled = errors.New("metrics: disabled in configuration")

// Config holds exporter settings.
type Config struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	// Labels are added as default tags to every written point.
	Labels        map[string]string
	BatchSize     uint
	FlushInterval time.Duration
}

// NodeReport is one device's status enriched with topology names.
type NodeReport struct {
	ID          uint64
	Name        string
	Kind        store.Kind
	ParentID    uint64
	ParentName  string
	Firmware    string
	Online      bool
	Uptime      int64
	Clicks      int64
	Disconnects int64
	RSSI        int64
	FreeHeap    *int64
	LastSeen    time.Time
}

// ReportFromStatus fills the numeric part of a NodeReport. Missing counters are zero.
func ReportFromStatus(st protocol.DeviceStatus) NodeReport {
	val := func(p *int64) int64 {
		if p == nil {
			return 0
		}
		return *p
	}
	r := NodeReport{
		ID:          st.DeviceID,
		Kind:        st.Kind,
		Firmware:    st.Firmware,
		Uptime:      val(st.Uptime),
		Clicks:      val(st.Clicks),
		Disconnects: val(st.Disconnects),
		RSSI:        val(st.RSSI),
		FreeHeap:    st.FreeHeap,
	}
	if st.ParentID != nil {
		r.ParentID = *st.ParentID
	}
	return r
}

// NodePoints builds the node_info and mesh_node points for a report.
func NodePoints(r NodeReport, at time.Time) []*write.Point {
	id := strconv.FormatUint(r.ID, 10)

	info := map[string]any{
		"uptime":      r.Uptime,
		"clicks":      r.Clicks,
		"disconnects": r.Disconnects,
		"last_seen":   r.LastSeen.Unix(),
	}
	if r.FreeHeap != nil {
		info["free_heap"] = *r.FreeHeap
	}

	parentName := r.ParentName
	if r.ParentID == 0 {
		parentName = "unknown"
	} else if parentName == "" {
		parentName = strconv.FormatUint(r.ParentID, 10)
	}
	status := "offline"
	if r.Online {
		status = "online"
	}

	node := write.NewPoint("node_info",
		map[string]string{"id": id, "name": r.Name},
		info, at)
	mesh := write.NewPoint("mesh_node",
		map[string]string{
			"id":          id,
			"name":        r.Name,
			"parent":      strconv.FormatUint(r.ParentID, 10),
			"parent_name": parentName,
			"firmware":    r.Firmware,
			"status":      status,
			"type":        string(r.Kind),
		},
		map[string]any{"rssi": r.RSSI}, at)
	return []*write.Point{node, mesh}
}

// HeatingPoint builds the heating controller point.
func HeatingPoint(m protocol.HeatingMetrics, at time.Time) *write.Point {
	return write.NewPoint("heating",
		map[string]string{},
		map[string]any{
			"cold":       m.Cold,
			"mixed":      m.Mixed,
			"hot":        m.Hot,
			"integral":   m.Integral,
			"pid_output": m.PIDOutput,
			"target":     m.Target,
			"kp":         m.Kp,
			"ki":         m.Ki,
			"kd":         m.Kd,
		}, at)
}

// Exporter writes points through a batching, non-blocking write API.
type Exporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
	done     chan struct{}
}

// New creates an exporter. Writes are fire-and-forget; failures are logged.
func New(cfg Config, logger *slog.Logger) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 20
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
	for k, v := range cfg.Labels {
		opts.AddDefaultTag(k, v)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	e := &Exporter{
		client:   client,
		writeAPI: writeAPI,
		logger:   logger.With("component", "metrics"),
		done:     make(chan struct{}),
	}
	// Errors creates its channel lazily; take it here, before Close can run.
	go e.logErrors(writeAPI.Errors())
	return e, nil
}

func (e *Exporter) logErrors(errs <-chan error) {
	defer close(e.done)
	for err := range errs {
		e.logger.Warn("metrics write failed", "err", err)
	}
}

// WriteNode queues the two status points of a device.
func (e *Exporter) WriteNode(r NodeReport) {
	for _, p := range NodePoints(r, time.Now()) {
		e.writeAPI.WritePoint(p)
	}
}

// WriteHeating queues a heating controller sample.
func (e *Exporter) WriteHeating(m protocol.HeatingMetrics) {
	e.writeAPI.WritePoint(HeatingPoint(m, time.Now()))
}

// Close flushes pending points, releases the client and waits for the
// error logger to drain.
func (e *Exporter) Close() {
	e.writeAPI.Flush()
	e.client.Close()
	<-e.done
}
