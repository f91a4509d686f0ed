package models

import (
	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

// DefaultMaxBatchSize bounds batch ingestion unless configured otherwise.
const DefaultMaxBatchSize = 1000

type BatchItemStatus string

const (
	BatchItemCreated BatchItemStatus = "created"
	BatchItemFailed  BatchItemStatus = "failed"
	// BatchItemAborted marks a valid item discarded because another item failed.
	BatchItemAborted BatchItemStatus = "aborted"
)

// BatchItemReport is the per-item outcome of a batch, in input order.
type BatchItemReport struct {
	Index  int               `json:"index"`
	Status BatchItemStatus   `json:"status"`
	ID     *id.TestResultID  `json:"id,omitempty"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// BatchReport describes a batch ingestion. Results is empty when rejected.
type BatchReport struct {
	Items   []BatchItemReport `json:"items"`
	Results []*TestResult     `json:"-"`
}

// Failed counts failed items.
func (r *BatchReport) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == BatchItemFailed {
			n++
		}
	}
	return n
}

// Fail records err as the outcome of item i.
func (r *BatchReport) Fail(i int, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInvalidInput {
		code = dErrors.CodeValidation
	}
	r.Items[i].Status = BatchItemFailed
	r.Items[i].Code = string(code)
	r.Items[i].Error = dErrors.MessageOf(err)
	r.Items[i].Fields = dErrors.FieldsOf(err)
}
