package castle

import (
	"sync/atomic"
	"time"

	"github.com/castlefs/castle-client/internal/interfaces"
	"github.com/castlefs/castle-client/internal/uapi"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8
const numTags = int(uapi.TagGetChunk) + 1

// Metrics tracks per-connection operational statistics, broken down by
// request tag (Get, Replace, CounterAdd, iterator ops, and so on).
type Metrics struct {
	SubmitCount   [numTags]atomic.Uint64
	CompleteCount [numTags]atomic.Uint64
	ErrorCount    [numTags]atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	ReservedSamples   atomic.Uint64
	ReservedTotal     atomic.Int64
	OutstandingTotal  atomic.Int64
	QueueDepthTotal   atomic.Uint64
	QueueDepthCount   atomic.Uint64
	MaxQueueDepth     atomic.Uint32

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with its clock started.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordSubmit(tag uint8, latencyNs uint64) {
	if int(tag) < numTags {
		m.SubmitCount[tag].Add(1)
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordComplete(tag uint8, latencyNs uint64, success bool) {
	if int(tag) < numTags {
		m.CompleteCount[tag].Add(1)
		if !success {
			m.ErrorCount[tag].Add(1)
		}
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) recordReservation(reserved, outstanding int) {
	m.ReservedSamples.Add(1)
	m.ReservedTotal.Add(int64(reserved))
	m.OutstandingTotal.Add(int64(outstanding))
}

func (m *Metrics) recordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// Stop marks the connection as closed for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read
// without further synchronization.
type MetricsSnapshot struct {
	SubmitCount   [numTags]uint64
	CompleteCount [numTags]uint64
	ErrorCount    [numTags]uint64

	TotalOps     uint64
	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	AvgReserved    float64
	AvgOutstanding float64
	AvgQueueDepth  float64
	MaxQueueDepth  uint32
	ErrorRate      float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	var totalErrors uint64
	for i := 0; i < numTags; i++ {
		snap.SubmitCount[i] = m.SubmitCount[i].Load()
		snap.CompleteCount[i] = m.CompleteCount[i].Load()
		snap.ErrorCount[i] = m.ErrorCount[i].Load()
		totalErrors += snap.ErrorCount[i]
		snap.TotalOps += snap.CompleteCount[i]
	}
	snap.MaxQueueDepth = m.MaxQueueDepth.Load()

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if reservedSamples := m.ReservedSamples.Load(); reservedSamples > 0 {
		snap.AvgReserved = float64(m.ReservedTotal.Load()) / float64(reservedSamples)
		snap.AvgOutstanding = float64(m.OutstandingTotal.Load()) / float64(reservedSamples)
	}
	if queueDepthCount := m.QueueDepthCount.Load(); queueDepthCount > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(queueDepthCount)
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer is the pluggable metrics-collection interface accepted by
// ConnectOptions; it is exactly internal/interfaces.Observer, re-exported
// so callers outside the module can implement it without an internal
// import. The ring stores it but does not call it.
type Observer = interfaces.Observer

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit(uint8, uint64)          {}
func (NoOpObserver) ObserveComplete(uint8, uint64, bool)  {}
func (NoOpObserver) ObserveReservation(int, int)          {}
func (NoOpObserver) ObserveQueueDepth(uint32)             {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(tag uint8, latencyNs uint64) {
	o.metrics.recordSubmit(tag, latencyNs)
}

func (o *MetricsObserver) ObserveComplete(tag uint8, latencyNs uint64, success bool) {
	o.metrics.recordComplete(tag, latencyNs, success)
}

func (o *MetricsObserver) ObserveReservation(reserved, outstanding int) {
	o.metrics.recordReservation(reserved, outstanding)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.recordQueueDepth(depth)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
