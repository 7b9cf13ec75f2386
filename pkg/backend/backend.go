// Package backend consumes the measurement persistence API: single store,
// batch store and late linking. The backend itself is an external
// collaborator; this package only speaks its HTTP surface.
package backend

import (
	"context"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
)

// Client denotes the measurement persistence capability consumed by the sync
// queue
type Client interface {

	// StoreMeasurement persists a single finished measurement
	StoreMeasurement(ctx context.Context, m analyzer.Measurement) error

	// StoreMeasurementBatch persists a set of measurements in one request.
	// The call is all-or-nothing: on error none of the measurements may be
	// considered stored.
	StoreMeasurementBatch(ctx context.Context, ms []analyzer.Measurement) error

	// LinkMeasurement attaches an already-stored measurement to an external
	// entity
	LinkMeasurement(ctx context.Context, measurementID string, link analyzer.Link) error
}
