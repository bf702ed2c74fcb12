package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/palletline/inventory/pkg/errors"
)

var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inventory_operations_total",
		Help: "Total number of inventory operations by outcome.",
	},
	[]string{"operation", "outcome"},
)

// recordOperation tags the operation counter with "ok" or the rejection code.
func recordOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			outcome = appErr.Code
		}
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}
