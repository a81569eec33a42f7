package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory", Name: "http_requests_total", Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "directory", Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	StudentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "directory", Name: "students_created_total", Help: "Students created",
	})
	StudentsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "directory", Name: "students_deleted_total", Help: "Students deleted",
	})
	BlobPurges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "directory", Name: "blob_purges_total", Help: "Blob purge attempts by result",
	}, []string{"result"})
	OrphansSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "directory", Name: "orphan_blobs_swept_total", Help: "Unattached blobs removed by the sweep",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "directory", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPDuration, StudentsCreated, StudentsDeleted, BlobPurges, OrphansSwept, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

func ObserveRequest(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
