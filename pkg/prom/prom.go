package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/transaction-guard/pkg/http"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemUpload = "upload"
	SystemIngest = "ingest"
	SystemQueue  = "queue"
	SystemMail   = "mail"
	SystemFraud  = "fraud"
)

const (
	MetricUploads           = "files_total"
	MetricIngestJobs        = "jobs_total"
	MetricIngestJobDuration = "job_duration_seconds"
	MetricIngestRows        = "rows_total"
	MetricQueueMessages     = "messages"
	MetricMailSent          = "sent_total"
	MetricFraudDuration     = "report_duration_seconds"
	MetricFraudFlagged      = "flagged_transactions"
)

type kind int

const (
	counterVec kind = iota
	gaugeVec
	histogram
)

type definition struct {
	kind      kind
	subsystem string
	name      string
	help      string
	labels    []string
}

var definitions = []definition{
	{counterVec, SystemUpload, MetricUploads, "Uploaded files by outcome.", []string{"outcome"}},
	{counterVec, SystemIngest, MetricIngestJobs, "Ingestion job attempts by outcome.", []string{"outcome"}},
	{histogram, SystemIngest, MetricIngestJobDuration, "Duration of successful ingestion jobs.", nil},
	{counterVec, SystemIngest, MetricIngestRows, "CSV rows parsed and inserted.", []string{"result"}},
	{gaugeVec, SystemQueue, MetricQueueMessages, "Messages of the ingestion stream by state.", []string{"state"}},
	{counterVec, SystemMail, MetricMailSent, "Mail send attempts by provider and outcome.", []string{"provider", "outcome"}},
	{histogram, SystemFraud, MetricFraudDuration, "Duration of fraud report computation.", nil},
	{gaugeVec, SystemFraud, MetricFraudFlagged, "Transactions flagged by the last fraud report.", []string{"reason"}},
}

var (
	lock    sync.RWMutex
	enabled bool

	counterVecs = make(map[string]*prometheus.CounterVec)
	gaugeVecs   = make(map[string]*prometheus.GaugeVec)
	histograms  = make(map[string]prometheus.Histogram)
)

// Create registers every metric of the pipeline. Until it is called all
// helpers are no-ops, which keeps tests and the CLI free of metrics.
func Create(host string, env string, namespace string) error {
	return CreateWith(prometheus.DefaultRegisterer, host, env, namespace)
}

func CreateWith(reg prometheus.Registerer, host string, env string, namespace string) error {
	lock.Lock()
	defer lock.Unlock()

	constLabels := prometheus.Labels{"env": env, "instance": host}
	for _, d := range definitions {
		key := d.subsystem + d.name
		var c prometheus.Collector
		switch d.kind {
		case counterVec:
			v := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace, Subsystem: d.subsystem, Name: d.name, Help: d.help, ConstLabels: constLabels,
			}, d.labels)
			counterVecs[key], c = v, v
		case gaugeVec:
			v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: d.subsystem, Name: d.name, Help: d.help, ConstLabels: constLabels,
			}, d.labels)
			gaugeVecs[key], c = v, v
		case histogram:
			v := prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: d.subsystem, Name: d.name, Help: d.help, ConstLabels: constLabels,
				Buckets: prometheus.DefBuckets,
			})
			histograms[key], c = v, v
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register %s_%s: %w", d.subsystem, d.name, err)
		}
	}

	enabled = true
	return nil
}

// ListenAndServe exposes the default registry on addr+url. It blocks.
func ListenAndServe(addr string, url string) error {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.GET(url, hh)
	logger.Info("[metrics-server] listening", "addr", addr, "url", url)
	return s.ListenAndServe(addr)
}

func addCounterVec(subsystem, name string, num float64, labelValues ...string) {
	lock.RLock()
	defer lock.RUnlock()
	if !enabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func setGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	lock.RLock()
	defer lock.RUnlock()
	if !enabled {
		return
	}
	if v, ok := gaugeVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func observeHistogram(subsystem, name string, number float64) {
	lock.RLock()
	defer lock.RUnlock()
	if !enabled {
		return
	}
	if v, ok := histograms[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

// IncUpload counts an upload request: staged, rejected or error.
func IncUpload(outcome string) {
	addCounterVec(SystemUpload, MetricUploads, 1, outcome)
}

// IncIngestJob counts a job attempt outcome: completed, failed or retried.
func IncIngestJob(outcome string) {
	addCounterVec(SystemIngest, MetricIngestJobs, 1, outcome)
}

func AddIngestJobDuration(seconds float64) {
	observeHistogram(SystemIngest, MetricIngestJobDuration, seconds)
}

func AddIngestRows(result string, n int) {
	addCounterVec(SystemIngest, MetricIngestRows, float64(n), result)
}

// SetQueueMessages reports the stream size for state pending, delayed or
// dead_letter.
func SetQueueMessages(state string, n int64) {
	setGaugeVec(SystemQueue, MetricQueueMessages, float64(n), state)
}

func IncMailSent(provider, outcome string) {
	addCounterVec(SystemMail, MetricMailSent, 1, provider, outcome)
}

func AddFraudReportDuration(seconds float64) {
	observeHistogram(SystemFraud, MetricFraudDuration, seconds)
}

func SetFraudFlagged(reason string, n int) {
	setGaugeVec(SystemFraud, MetricFraudFlagged, float64(n), reason)
}
