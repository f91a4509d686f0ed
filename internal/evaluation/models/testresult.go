package models

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	id "evalledger/pkg/domain"
	dErrors "evalledger/pkg/domain-errors"
)

// MetricData is one computed metric record. Name and Score are required;
// everything else is optional and stored as given.
type MetricData struct {
	Name            string   `json:"name"`
	Score           *float64 `json:"score"`
	Threshold       *float64 `json:"threshold,omitempty"`
	Success         *bool    `json:"success,omitempty"`
	Reason          *string  `json:"reason,omitempty"`
	StrictMode      *bool    `json:"strict_mode,omitempty"`
	EvaluationModel *string  `json:"evaluation_model,omitempty"`
	Error           *string  `json:"error,omitempty"`
	EvaluationCost  *float64 `json:"evaluation_cost,omitempty"`
	VerboseLogs     *string  `json:"verbose_logs,omitempty"`
}

func (m *MetricData) validate(field string) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return dErrors.Field(field+".name", "is required")
	}
	if m.Score == nil {
		return dErrors.Field(field+".score", "is required")
	}
	if !finite(*m.Score) {
		return dErrors.Field(field+".score", "must be a finite number")
	}
	if m.Threshold != nil && !finite(*m.Threshold) {
		return dErrors.Field(field+".threshold", "must be a finite number")
	}
	if m.EvaluationCost != nil && !finite(*m.EvaluationCost) {
		return dErrors.Field(field+".evaluation_cost", "must be a finite number")
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// TestResult is the outcome of evaluating one test case within one run.
//
// Invariants:
//   - RunID references an existing run; deleting the run deletes the result
//   - TestCaseID referenced a test case visible to the creator at creation;
//     deleting the test case keeps the result
//   - Conversational (and Multimodal, when set) agree with the test case type
//   - results are immutable
type TestResult struct {
	ID                 id.TestResultID `json:"id"`
	RunID              id.RunID        `json:"run_id"`
	TestCaseID         id.TestCaseID   `json:"test_case_id"`
	Name               string          `json:"name"`
	Success            bool            `json:"success"`
	Conversational     bool            `json:"conversational"`
	Multimodal         *bool           `json:"multimodal"`
	Input              *string         `json:"input"`
	ActualOutput       *string         `json:"actual_output"`
	ExpectedOutput     *string         `json:"expected_output"`
	Context            []string        `json:"context"`
	RetrievalContext   []string        `json:"retrieval_context"`
	MetricsData        []MetricData    `json:"metrics_data"`
	AdditionalMetadata json.RawMessage `json:"additional_metadata"`
	ExecutedAt         time.Time       `json:"executed_at"`
}

// TestResultInput carries one result to record. RunID and TestCaseID are the
// raw client references; Normalize parses them.
type TestResultInput struct {
	RunID              string
	TestCaseID         string
	Name               string
	Success            *bool
	Conversational     *bool
	Multimodal         *bool
	Input              *string
	ActualOutput       *string
	ExpectedOutput     *string
	Context            []string
	RetrievalContext   []string
	MetricsData        []MetricData
	AdditionalMetadata json.RawMessage
	ExecutedAt         *time.Time

	parsedRunID      id.RunID
	parsedTestCaseID id.TestCaseID
}

// Normalize validates the shape of a single result.
func (in *TestResultInput) Normalize() error {
	runID, err := id.ParseRunID(strings.TrimSpace(in.RunID))
	if err != nil {
		return dErrors.Field("run_id", dErrors.MessageOf(err))
	}
	tcID, err := id.ParseTestCaseID(strings.TrimSpace(in.TestCaseID))
	if err != nil {
		return dErrors.Field("test_case_id", dErrors.MessageOf(err))
	}
	in.parsedRunID = runID
	in.parsedTestCaseID = tcID

	name, err := normalizeName(FieldName, in.Name, MaxNameLength)
	if err != nil {
		return err
	}
	in.Name = name
	if in.Success == nil {
		return dErrors.Field("success", "is required")
	}
	if in.Conversational == nil {
		return dErrors.Field("conversational", "is required")
	}
	for i := range in.MetricsData {
		if err := in.MetricsData[i].validate("metrics_data[" + strconv.Itoa(i) + "]"); err != nil {
			return err
		}
	}
	md, err := normalizeObject(FieldAdditionalMetadata, in.AdditionalMetadata)
	if err != nil {
		return err
	}
	in.AdditionalMetadata = md
	in.Context = normalizeStrings(in.Context)
	in.RetrievalContext = normalizeStrings(in.RetrievalContext)
	return nil
}

func (in *TestResultInput) ParsedRunID() id.RunID           { return in.parsedRunID }
func (in *TestResultInput) ParsedTestCaseID() id.TestCaseID { return in.parsedTestCaseID }

// CheckVariant enforces that the result's flags agree with the test case type.
func (in *TestResultInput) CheckVariant(t TestCaseType) error {
	if *in.Conversational != (t == TestCaseTypeConversational) {
		return dErrors.Field("conversational", "must be "+strconv.FormatBool(t == TestCaseTypeConversational)+" for a "+string(t)+" test case")
	}
	if in.Multimodal != nil && *in.Multimodal != (t == TestCaseTypeMultimodal) {
		return dErrors.Field("multimodal", "must be "+strconv.FormatBool(t == TestCaseTypeMultimodal)+" for a "+string(t)+" test case")
	}
	return nil
}

// NewTestResult builds a result from normalized input already checked
// against its test case.
func NewTestResult(resID id.TestResultID, in TestResultInput, now time.Time) *TestResult {
	executedAt := now
	if in.ExecutedAt != nil && !in.ExecutedAt.IsZero() {
		executedAt = in.ExecutedAt.UTC()
	}
	metrics := slices.Clone(in.MetricsData)
	if metrics == nil {
		metrics = []MetricData{}
	}
	return &TestResult{
		ID:                 resID,
		RunID:              in.parsedRunID,
		TestCaseID:         in.parsedTestCaseID,
		Name:               in.Name,
		Success:            *in.Success,
		Conversational:     *in.Conversational,
		Multimodal:         cloneBool(in.Multimodal),
		Input:              cloneString(in.Input),
		ActualOutput:       cloneString(in.ActualOutput),
		ExpectedOutput:     cloneString(in.ExpectedOutput),
		Context:            in.Context,
		RetrievalContext:   in.RetrievalContext,
		MetricsData:        metrics,
		AdditionalMetadata: in.AdditionalMetadata,
		ExecutedAt:         executedAt,
	}
}

func (r *TestResult) Clone() *TestResult {
	c := *r
	c.Multimodal = cloneBool(r.Multimodal)
	c.Context = normalizeStrings(r.Context)
	c.RetrievalContext = normalizeStrings(r.RetrievalContext)
	c.MetricsData = slices.Clone(r.MetricsData)
	c.AdditionalMetadata = slices.Clone(r.AdditionalMetadata)
	return &c
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
