package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer and
// the admission workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	enrollmentsCreated   prometheus.Counter
	registrationRetries  prometheus.Counter
	registrationFailures prometheus.Counter
	documentsUploaded    *prometheus.CounterVec
	documentReviews      *prometheus.CounterVec
	importRows           *prometheus.CounterVec
	notificationEmails   *prometheus.CounterVec
	remindersSent        prometheus.Counter
	jobQueueDepth        prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_created_total",
		Help: "Enrollment records created",
	})

	registrationRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registration_number_retries_total",
		Help: "Enrollment creations retried after a registration number collision",
	})

	registrationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registration_number_conflicts_total",
		Help: "Enrollment creations that exhausted their registration number attempts",
	})

	documentsUploaded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "documents_uploaded_total",
		Help: "Documents stored, by kind",
	}, []string{"kind"})

	documentReviews := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "document_reviews_total",
		Help: "Document review decisions",
	}, []string{"decision"})

	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Bulk import rows processed, by result",
	}, []string{"result"})

	notificationEmails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_emails_total",
		Help: "Notification emails, by outcome",
	}, []string{"outcome"})

	remindersSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pending_document_reminders_total",
		Help: "Pending document reminders sent to administrators",
	})

	jobQueueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "job_queue_depth",
		Help: "Jobs waiting in the deferred delivery queue",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentsCreated, registrationRetries, registrationFailures,
		documentsUploaded, documentReviews, importRows, notificationEmails, remindersSent, jobQueueDepth, goroutines)

	return &MetricsService{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		enrollmentsCreated:   enrollmentsCreated,
		registrationRetries:  registrationRetries,
		registrationFailures: registrationFailures,
		documentsUploaded:    documentsUploaded,
		documentReviews:      documentReviews,
		importRows:           importRows,
		notificationEmails:   notificationEmails,
		remindersSent:        remindersSent,
		jobQueueDepth:        jobQueueDepth,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the private registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// EnrollmentCreated counts a created record.
func (m *MetricsService) EnrollmentCreated() {
	if m == nil {
		return
	}
	m.enrollmentsCreated.Inc()
}

// RegistrationRetry counts one retried creation.
func (m *MetricsService) RegistrationRetry() {
	if m == nil {
		return
	}
	m.registrationRetries.Inc()
}

// RegistrationConflict counts a creation that gave up on registration numbers.
func (m *MetricsService) RegistrationConflict() {
	if m == nil {
		return
	}
	m.registrationFailures.Inc()
}

// DocumentUploaded counts a stored document.
func (m *MetricsService) DocumentUploaded(kind string) {
	if m == nil {
		return
	}
	m.documentsUploaded.WithLabelValues(kind).Inc()
}

// DocumentReviewed counts an approve or reject decision.
func (m *MetricsService) DocumentReviewed(approved bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	m.documentReviews.WithLabelValues(decision).Inc()
}

// ImportRows adds processed import rows.
func (m *MetricsService) ImportRows(succeeded, failed int) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("success").Add(float64(succeeded))
	m.importRows.WithLabelValues("error").Add(float64(failed))
}

// NotificationEmail counts an email outcome: sent, failed, dropped or skipped.
func (m *MetricsService) NotificationEmail(outcome string) {
	if m == nil {
		return
	}
	m.notificationEmails.WithLabelValues(outcome).Inc()
}

// ReminderSent counts a delivered pending-documents reminder.
func (m *MetricsService) ReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

// SetJobQueueDepth reports the number of queued jobs.
func (m *MetricsService) SetJobQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.jobQueueDepth.Set(float64(depth))
}
