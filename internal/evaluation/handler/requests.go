package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"evalledger/internal/evaluation/models"
	dErrors "evalledger/pkg/domain-errors"
)

// ExperimentRequest is the body of POST and PUT /experiments.
type ExperimentRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Config      json.RawMessage `json:"config"`
	// Unchanged lists fields a PUT keeps from the stored experiment.
	Unchanged []string `json:"unchanged,omitempty"`
}

// Validate implements httputil.Validatable.
func (r *ExperimentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	keep, err := models.ParseFieldSet(r.Unchanged, models.ExperimentMutableFields...)
	if err != nil {
		return err
	}
	in := r.Input()
	if err := in.Normalize(keep); err != nil {
		return err
	}
	r.Name, r.Description, r.Config = in.Name, in.Description, in.Config
	return nil
}

func (r *ExperimentRequest) Input() models.ExperimentInput {
	return models.ExperimentInput{
		Name:        r.Name,
		Description: r.Description,
		Config:      r.Config,
	}
}

// RunRequest is the body of POST /experiments/{id}/runs and PUT /runs/{id}.
type RunRequest struct {
	GitCommit       string          `json:"git_commit"`
	Hyperparameters json.RawMessage `json:"hyperparameters"`
	Unchanged       []string        `json:"unchanged,omitempty"`
}

func (r *RunRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	keep, err := models.ParseFieldSet(r.Unchanged, models.RunMutableFields...)
	if err != nil {
		return err
	}
	in := r.Input()
	if err := in.Normalize(keep); err != nil {
		return err
	}
	r.GitCommit, r.Hyperparameters = in.GitCommit, in.Hyperparameters
	return nil
}

func (r *RunRequest) Input() models.RunInput {
	return models.RunInput{
		GitCommit:       r.GitCommit,
		Hyperparameters: r.Hyperparameters,
	}
}

// TestCaseRequest is the body of POST and PUT /test-cases. Payload is decoded
// by the variant named in Type.
type TestCaseRequest struct {
	Name               string          `json:"name"`
	Type               string          `json:"type"`
	Payload            json.RawMessage `json:"payload"`
	Context            []string        `json:"context"`
	RetrievalContext   []string        `json:"retrieval_context"`
	AdditionalMetadata json.RawMessage `json:"additional_metadata"`
	Global             *bool           `json:"global,omitempty"`
	Unchanged          []string        `json:"unchanged,omitempty"`
}

// Validate only checks the unchanged list; payload shape depends on the
// stored test case for updates and is validated by the service.
func (r *TestCaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	_, err := models.ParseFieldSet(r.Unchanged, models.TestCaseMutableFields...)
	return err
}

func (r *TestCaseRequest) Input() models.TestCaseInput {
	return models.TestCaseInput{
		Name:               r.Name,
		Type:               r.Type,
		Payload:            r.Payload,
		Context:            r.Context,
		RetrievalContext:   r.RetrievalContext,
		AdditionalMetadata: r.AdditionalMetadata,
		Global:             r.Global,
	}
}

// TestResultRequest is one result, posted alone or as a batch item.
type TestResultRequest struct {
	RunID              string              `json:"run_id"`
	TestCaseID         string              `json:"test_case_id"`
	Name               string              `json:"name"`
	Success            *bool               `json:"success"`
	Conversational     *bool               `json:"conversational"`
	Multimodal         *bool               `json:"multimodal"`
	Input              *string             `json:"input"`
	ActualOutput       *string             `json:"actual_output"`
	ExpectedOutput     *string             `json:"expected_output"`
	Context            []string            `json:"context"`
	RetrievalContext   []string            `json:"retrieval_context"`
	MetricsData        []models.MetricData `json:"metrics_data"`
	AdditionalMetadata json.RawMessage     `json:"additional_metadata"`
	ExecutedAt         *time.Time          `json:"executed_at"`
}

// Validate implements httputil.Validatable. Shape checks run in the service
// so single and batch ingestion report identical errors.
func (r *TestResultRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

func (r *TestResultRequest) ToInput() models.TestResultInput {
	return models.TestResultInput{
		RunID:              r.RunID,
		TestCaseID:         r.TestCaseID,
		Name:               r.Name,
		Success:            r.Success,
		Conversational:     r.Conversational,
		Multimodal:         r.Multimodal,
		Input:              r.Input,
		ActualOutput:       r.ActualOutput,
		ExpectedOutput:     r.ExpectedOutput,
		Context:            r.Context,
		RetrievalContext:   r.RetrievalContext,
		MetricsData:        r.MetricsData,
		AdditionalMetadata: r.AdditionalMetadata,
		ExecutedAt:         r.ExecutedAt,
	}
}

// BatchTestResultsRequest is the body of POST /test-results/batch.
type BatchTestResultsRequest struct {
	Items []TestResultRequest `json:"items"`
}

func (r *BatchTestResultsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Items) == 0 {
		return dErrors.Field("items", "must contain at least one result")
	}
	return nil
}

func (r *BatchTestResultsRequest) Inputs() []models.TestResultInput {
	out := make([]models.TestResultInput, len(r.Items))
	for i := range r.Items {
		out[i] = r.Items[i].ToInput()
	}
	return out
}

// parsePage reads skip and limit from the query, defaulting absent values.
func parsePage(r *http.Request) (models.Page, error) {
	page := models.DefaultPage()
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("skip")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, dErrors.Field("skip", "must be an integer")
		}
		page.Skip = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, dErrors.Field("limit", "must be an integer")
		}
		page.Limit = n
	}
	if err := page.Validate(); err != nil {
		return page, err
	}
	return page, nil
}
