package handler

import (
	"strconv"

	"trustindex/internal/index/models"
)

// IndexResponse is the HTTP body for index lookups and calculations.
// Index and Timestamp are null until the account has been aggregated.
type IndexResponse struct {
	AccountID string          `json:"account_id"`
	Index     *string         `json:"index"`
	Timestamp *string         `json:"timestamp"`
	Errors    []ErrorResponse `json:"errors"`
}

// ErrorResponse is one recorded probe failure.
type ErrorResponse struct {
	Contract string `json:"contract"`
	Error    string `json:"error"`
}

// FromReport converts a domain report. The timestamp is rendered as
// nanoseconds since the Unix epoch.
func FromReport(r *models.IndexReport) *IndexResponse {
	resp := &IndexResponse{
		AccountID: r.Account.String(),
		Index:     r.Index,
		Errors:    make([]ErrorResponse, 0, len(r.Errors)),
	}
	if r.Timestamp != nil {
		ts := strconv.FormatInt(r.Timestamp.UnixNano(), 10)
		resp.Timestamp = &ts
	}
	for _, e := range r.Errors {
		resp.Errors = append(resp.Errors, ErrorResponse{Contract: e.Provider.String(), Error: e.Message})
	}
	return resp
}
