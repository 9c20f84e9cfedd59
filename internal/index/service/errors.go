package service

import (
	"context"
	"errors"
	"strconv"

	"trustindex/internal/index/models"
	dErrors "trustindex/pkg/domain-errors"
)

// translateError maps run failures onto domain errors for the transport layer.
func translateError(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "trust index calculation timed out")
	case errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "trust index calculation canceled")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to calculate trust index")
	}
}

// cloneReport gives every joined caller its own copy.
func cloneReport(r *models.IndexReport) *models.IndexReport {
	if r == nil {
		return nil
	}
	out := *r
	if r.Index != nil {
		idx := *r.Index
		out.Index = &idx
	}
	if r.Timestamp != nil {
		ts := *r.Timestamp
		out.Timestamp = &ts
	}
	out.Errors = append([]models.ProbeError(nil), r.Errors...)
	if out.Errors == nil {
		out.Errors = []models.ProbeError{}
	}
	return &out
}

func indexFloat(index string) (float64, error) {
	return strconv.ParseFloat(index, 64)
}
