package resilience

import (
	"time"

	"github.com/google/uuid"

	"github.com/suphelp/geo-cli/internal/model"
)

// Error types reported by ClassifyError.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
	ErrorTypePaywall   = "paywall"
	ErrorTypeNotFound  = "not_found"
)

// NewFailedUnit builds a dead-letter entry for a unit that failed without
// aborting its batch.
func NewFailedUnit(runID, kind, key string, err error) model.FailedUnit {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return model.FailedUnit{
		ID:        uuid.NewString(),
		RunID:     runID,
		Kind:      kind,
		Key:       key,
		Error:     msg,
		ErrorType: ClassifyError(err),
		CreatedAt: time.Now().UTC(),
	}
}

// ClassifyError categorizes an error as "transient", "permanent", "paywall"
// or "not_found".
func ClassifyError(err error) string {
	switch {
	case IsPaywall(err):
		return ErrorTypePaywall
	case IsNotFound(err):
		return ErrorTypeNotFound
	case IsTransient(err):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
