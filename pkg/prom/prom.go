package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/sahelsms/orange-gateway/pkg/logger"
)

const SubsystemSMS = "sms"

const (
	MetricMOReceived     = "mo_received_total"
	MetricMTSent         = "mt_sent_total"
	MetricMTFailed       = "mt_failed_total"
	MetricDRRecorded     = "dr_recorded_total"
	MetricSubmitDuration = "carrier_submit_duration_seconds"
)

var (
	createLock = &sync.Mutex{}
	namespace  = "none"

	MetricSystemEnabled = false

	counters    = make(map[string]prometheus.Counter)
	counterVecs = make(map[string]*prometheus.CounterVec)
	histograms  = make(map[string]prometheus.Histogram)

	defaultLabels prometheus.Labels
)

// Create registers the gateway metric set under the given namespace.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounter(SubsystemSMS, MetricMOReceived))
	hasError(createCounter(SubsystemSMS, MetricMTSent))
	hasError(createCounter(SubsystemSMS, MetricMTFailed))
	hasError(createCounterVec(SubsystemSMS, MetricDRRecorded, []string{"status"}))
	hasError(createHistogram(SubsystemSMS, MetricSubmitDuration))

	return err
}

func createCounter(subsystem, name string) error {
	createLock.Lock()
	defer createLock.Unlock()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	})
	if err := prometheus.Register(c); err != nil {
		return err
	}
	counters[subsystem+name] = c
	return nil
}

func createCounterVec(subsystem, name string, labels []string) error {
	createLock.Lock()
	defer createLock.Unlock()

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	if err := prometheus.Register(c); err != nil {
		return err
	}
	counterVecs[subsystem+name] = c
	return nil
}

func createHistogram(subsystem, name string) error {
	createLock.Lock()
	defer createLock.Unlock()

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	})
	if err := prometheus.Register(h); err != nil {
		return err
	}
	histograms[subsystem+name] = h
	return nil
}

func inc(subsystem, name string) {
	if !MetricSystemEnabled {
		return
	}
	if c, ok := counters[subsystem+name]; ok {
		c.Inc()
	}
}

func IncMOReceived() { inc(SubsystemSMS, MetricMOReceived) }
func IncMTSent()     { inc(SubsystemSMS, MetricMTSent) }
func IncMTFailed()   { inc(SubsystemSMS, MetricMTFailed) }

func IncDRRecorded(status string) {
	if !MetricSystemEnabled {
		return
	}
	if c, ok := counterVecs[SubsystemSMS+MetricDRRecorded]; ok {
		c.WithLabelValues(status).Inc()
	}
}

func ObserveSubmitDuration(seconds float64) {
	if !MetricSystemEnabled {
		return
	}
	if h, ok := histograms[SubsystemSMS+MetricSubmitDuration]; ok {
		h.Observe(seconds)
	}
}

// ListenAndServe exposes the prometheus handler on addr at url.
func ListenAndServe(addr string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	go func() {
		err := fasthttp.ListenAndServe(addr, func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) == url {
				hh(ctx)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		})
		if err != nil {
			logger.Error("metrics exporter stopped", "error", err)
		}
	}()
}
