package prom

import (
	"strconv"
	"sync"

	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemMessages  = "messages"
	SystemForwarder = "forwarder"
)

const (
	MetricMessagesIngested = "ingested_total"
	MetricForwardOutcomes  = "outcomes_total"
	MetricRelayDuration    = "relay_duration_seconds"
	MetricQueueDepth       = "queue_depth"
)

const (
	OutcomeForwarded = "forwarded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const (
	QueueTotal   = "total"
	QueuePending = "pending"
	QueueDead    = "dead"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

var log logger.Logger = logger.Nop()

// Create registers the service metrics with the default registry. Until it is
// called every recording helper is a no-op.
func Create(host string, env string, nameSpace string, l logger.Logger) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	if l != nil {
		log = l
	}

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemMessages, MetricMessagesIngested, []string{"otp"}))
	hasError(createCounterVec(SystemForwarder, MetricForwardOutcomes, []string{"outcome"}))
	hasError(createHistogramVec(SystemForwarder, MetricRelayDuration, []string{"relay"}))
	hasError(createGaugeVec(SystemForwarder, MetricQueueDepth, []string{"state"}))

	MetricSystemEnabled = err == nil
	return err
}

// ListenAndServe exposes the default registry on addr+path. It blocks.
func ListenAndServe(addr string, path string, l logger.Logger) error {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer(l)
	s.GET(path, hh)
	l.Info("[metrics-server] listening...", "addr", addr, "path", path)
	return s.ListenAndServe(addr)
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        subsystem + " " + name,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	log.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	log.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	log.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func IncMessageIngested(otp bool) {
	IncCounterVec(SystemMessages, MetricMessagesIngested, strconv.FormatBool(otp))
}

func IncForwardOutcome(outcome string) {
	IncCounterVec(SystemForwarder, MetricForwardOutcomes, outcome)
}

func AddRelayDuration(seconds float64, relay string) {
	AddHistogramVec(SystemForwarder, MetricRelayDuration, seconds, relay)
}

// SetQueueDepth records the forward queue size for one state (total, pending, dead).
func SetQueueDepth(state string, n int64) {
	SetGaugeVec(SystemForwarder, MetricQueueDepth, float64(n), state)
}
