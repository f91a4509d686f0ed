package handler

import (
	"evalledger/internal/evaluation/models"
	"evalledger/pkg/platform/httputil"
)

// TestCaseResponse adds the derived global flag to a test case.
type TestCaseResponse struct {
	*models.TestCase
	Global bool `json:"global"`
}

func toTestCaseResponse(tc *models.TestCase) TestCaseResponse {
	return TestCaseResponse{TestCase: tc, Global: tc.IsGlobal()}
}

func toTestCaseResponses(cases []*models.TestCase) []TestCaseResponse {
	out := make([]TestCaseResponse, 0, len(cases))
	for _, tc := range cases {
		out = append(out, toTestCaseResponse(tc))
	}
	return out
}

// BatchResponse is returned when every item of a batch was persisted.
type BatchResponse struct {
	Created int                      `json:"created"`
	Items   []models.BatchItemReport `json:"items"`
	Results []*models.TestResult     `json:"results"`
}

func toBatchResponse(report *models.BatchReport) BatchResponse {
	results := report.Results
	if results == nil {
		results = []*models.TestResult{}
	}
	return BatchResponse{
		Created: len(results),
		Items:   report.Items,
		Results: results,
	}
}

// BatchErrorResponse is the error envelope of a rejected batch, carrying the
// per-item report in input order.
type BatchErrorResponse struct {
	httputil.ErrorResponse
	Items []models.BatchItemReport `json:"items"`
}

// emptyIfNil keeps list endpoints from encoding null.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
