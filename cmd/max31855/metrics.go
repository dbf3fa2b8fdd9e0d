package main

import (
	"math"
	"net/http"

	"github.com/mikesmitty/max31855"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type metrics struct {
	reg *prometheus.Registry

	thermocouple prometheus.Gauge
	internal     prometheus.Gauge
	linearized   prometheus.Gauge
	faults       *prometheus.CounterVec
	readErrors   prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		thermocouple: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max31855_thermocouple_celsius",
			Help: "Thermocouple temperature as reported by the chip",
		}),
		internal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max31855_internal_celsius",
			Help: "Cold junction temperature",
		}),
		linearized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "max31855_linearized_celsius",
			Help: "Thermocouple temperature after NIST type K correction",
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "max31855_faults_total",
			Help: "Readings with a sensor fault",
		}, []string{"fault"}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "max31855_read_errors_total",
			Help: "Failed bus transactions",
		}),
	}
	m.reg.MustRegister(m.thermocouple, m.internal, m.linearized, m.faults, m.readErrors)
	return m
}

// observe records r. Gauges keep their last good value on a fault.
func (m *metrics) observe(r max31855.Reading) {
	if r.NoDevice {
		m.faults.WithLabelValues("no-device").Inc()
		return
	}
	for _, f := range []max31855.Fault{max31855.OpenCircuit, max31855.ShortToGND, max31855.ShortToVCC} {
		if r.Faults.Has(f) {
			m.faults.WithLabelValues(f.String()).Inc()
		}
	}
	m.internal.Set(r.Internal)
	if !r.Valid() {
		return
	}
	m.thermocouple.Set(r.Thermocouple)
	if l := r.Linearized(); !math.IsNaN(l) {
		m.linearized.Set(l)
	} else {
		m.faults.WithLabelValues("out-of-range").Inc()
	}
}

func (m *metrics) serve(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	log.Infof("metrics listening on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()
}
