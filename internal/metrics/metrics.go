// Package metrics exposes Prometheus collectors for rendering, encoding and
// asset delivery. All methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maauso/postframe/internal/storage"
)

const namespace = "postframe"

// Metrics holds the service collectors.
type Metrics struct {
	renderTotal      *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	layerFailures    *prometheus.CounterVec
	encodeTotal      *prometheus.CounterVec
	encodeDuration   prometheus.Histogram
	encoderAvailable prometheus.Gauge
	assetsLive       prometheus.Gauge
	assetsStored     *prometheus.CounterVec
	assetsDeleted    *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
}

var _ storage.Observer = (*Metrics)(nil)

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		renderTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total post renders by outcome",
		}, []string{"outcome"}),
		renderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of post renders",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2.0, 10), // 10ms to ~5s
		}),
		layerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_failures_total",
			Help:      "Image layers skipped because they could not be decoded",
		}, []string{"layer"}),
		encodeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_encodes_total",
			Help:      "Total video encodes by outcome",
		}, []string{"outcome"}),
		encodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_encode_duration_seconds",
			Help:      "Duration of video encodes",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2.0, 8), // 0.5s to ~64s
		}),
		encoderAvailable: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "encoder_available",
			Help:      "1 if the video encoder was found at startup",
		}),
		assetsLive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assets_live",
			Help:      "Assets currently stored and fetchable",
		}),
		assetsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_stored_total",
			Help:      "Assets written to the store by kind",
		}, []string{"kind"}),
		assetsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_deleted_total",
			Help:      "Asset deletions by kind and result",
		}, []string{"kind", "result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_deliveries_total",
			Help:      "Asset fetches by media type and status code",
		}, []string{"media", "status"}),
	}
}

// ObserveRender records one render.
func (m *Metrics) ObserveRender(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
	m.renderTotal.WithLabelValues(outcome(err)).Inc()
}

// IncLayerFailure counts a skipped layer.
func (m *Metrics) IncLayerFailure(layer string) {
	if m == nil {
		return
	}
	m.layerFailures.WithLabelValues(layer).Inc()
}

// ObserveEncode records one encode attempt. reason is "ok" on success or a
// short failure kind.
func (m *Metrics) ObserveEncode(d time.Duration, reason string) {
	if m == nil {
		return
	}
	if reason == "ok" {
		m.encodeDuration.Observe(d.Seconds())
	}
	m.encodeTotal.WithLabelValues(reason).Inc()
}

// SetEncoderAvailable records the startup probe result.
func (m *Metrics) SetEncoderAvailable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.encoderAvailable.Set(1)
	} else {
		m.encoderAvailable.Set(0)
	}
}

// ObserveDelivery counts an asset fetch.
func (m *Metrics) ObserveDelivery(media string, status int) {
	if m == nil {
		return
	}
	if media == "" {
		media = "unknown"
	}
	m.deliveries.WithLabelValues(media, strconv.Itoa(status)).Inc()
}

// AssetStored implements storage.Observer. A replacement keeps the live
// count unchanged since the replaced asset is never reported deleted.
func (m *Metrics) AssetStored(a *storage.Asset, replaced bool) {
	if m == nil {
		return
	}
	if !replaced {
		m.assetsLive.Inc()
	}
	m.assetsStored.WithLabelValues(string(a.Kind)).Inc()
}

// AssetDeleted implements storage.Observer.
func (m *Metrics) AssetDeleted(a *storage.Asset, err error) {
	if m == nil {
		return
	}
	m.assetsLive.Dec()
	m.assetsDeleted.WithLabelValues(string(a.Kind), outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
