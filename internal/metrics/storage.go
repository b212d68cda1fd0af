package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docarray"

// Storage backend Prometheus metrics.
var (
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage backend operations",
		},
		[]string{"backend", "op", "status"},
	)

	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Storage backend operation duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "op"},
	)

	StorageItemErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_item_errors_total",
			Help:      "Bulk items rejected by the storage backend",
		},
		[]string{"backend"},
	)

	ArrayDocuments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "array_documents",
			Help:      "Documents held by the served array",
		},
		[]string{"backend"},
	)
)

// Register registers every docarray collector with reg. Collectors already
// registered with reg are skipped, so calling it twice is harmless.
func Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range []prometheus.Collector{
		httpRequestDuration,
		httpRequestsTotal,
		httpInFlight,
		StorageOperationsTotal,
		StorageOperationDuration,
		StorageItemErrorsTotal,
		ArrayDocuments,
	} {
		if regErr := reg.Register(c); regErr != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(regErr, &already) {
				err = errors.Join(err, regErr)
			}
		}
	}
	return err
}
