package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	"evalledger/pkg/platform/sentinel"
	"evalledger/pkg/platform/tx"
)

// Postgres SQLSTATE codes the store translates into sentinels.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DB is the query surface shared by *sql.DB and *sql.Tx.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists the evaluation hierarchy in PostgreSQL. Calls join
// the transaction carried on ctx by tx.SQLRunner when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) DB {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// translate maps constraint violations onto sentinels and wraps the rest.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, sentinel.ErrAlreadyUsed)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// nullJSON stores an absent document as SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// decodeStrings reads a JSON text array; SQL NULL stays nil.
func decodeStrings(b []byte) ([]string, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// Experiments

const experimentColumns = `id, owner_id, name, description, config, created_at, updated_at`

func scanExperiment(row scanner) (*models.Experiment, error) {
	var (
		e       models.Experiment
		expID   uuid.UUID
		ownerID uuid.UUID
		desc    sql.NullString
		config  []byte
	)
	if err := row.Scan(&expID, &ownerID, &e.Name, &desc, &config, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = id.ExperimentID(expID)
	e.OwnerID = id.UserID(ownerID)
	if desc.Valid {
		d := desc.String
		e.Description = &d
	}
	e.Config = rawJSON(config)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (s *PostgresStore) CreateExperiment(ctx context.Context, e *models.Experiment) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO experiments (`+experimentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		uuid.UUID(e.ID), uuid.UUID(e.OwnerID), e.Name, e.Description, nullJSON(e.Config), e.CreatedAt, e.UpdatedAt,
	)
	return translate(err, "insert experiment")
}

func (s *PostgresStore) findExperiment(ctx context.Context, expID id.ExperimentID, lock string) (*models.Experiment, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1`+lock,
		uuid.UUID(expID),
	)
	e, err := scanExperiment(row)
	if err != nil {
		return nil, translate(err, "find experiment")
	}
	return e, nil
}

func (s *PostgresStore) FindExperiment(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error) {
	return s.findExperiment(ctx, expID, "")
}

func (s *PostgresStore) FindExperimentForUpdate(ctx context.Context, expID id.ExperimentID) (*models.Experiment, error) {
	return s.findExperiment(ctx, expID, " FOR UPDATE")
}

func (s *PostgresStore) ListExperimentsByOwner(ctx context.Context, owner id.UserID, page models.Page) ([]*models.Experiment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE owner_id = $1
		 ORDER BY created_at, id
		 OFFSET $2 LIMIT $3`,
		uuid.UUID(owner), page.Skip, page.Limit,
	)
	if err != nil {
		return nil, translate(err, "list experiments")
	}
	defer rows.Close()

	out := []*models.Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, e)
	}
	return out, translate(rows.Err(), "list experiments")
}

func (s *PostgresStore) UpdateExperiment(ctx context.Context, e *models.Experiment) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE experiments SET name = $2, description = $3, config = $4, updated_at = $5 WHERE id = $1`,
		uuid.UUID(e.ID), e.Name, e.Description, nullJSON(e.Config), e.UpdatedAt,
	)
	if err != nil {
		return translate(err, "update experiment")
	}
	return expectOne(res, "update experiment")
}

func (s *PostgresStore) DeleteExperiment(ctx context.Context, expID id.ExperimentID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, uuid.UUID(expID))
	if err != nil {
		return translate(err, "delete experiment")
	}
	return expectOne(res, "delete experiment")
}

// Runs

const runColumns = `id, experiment_id, git_commit, hyperparameters, created_at, updated_at`

func scanRun(row scanner) (*models.Run, error) {
	var (
		r     models.Run
		runID uuid.UUID
		expID uuid.UUID
		hp    []byte
	)
	if err := row.Scan(&runID, &expID, &r.GitCommit, &hp, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ID = id.RunID(runID)
	r.ExperimentID = id.ExperimentID(expID)
	r.Hyperparameters = rawJSON(hp)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *models.Run) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.UUID(r.ID), uuid.UUID(r.ExperimentID), r.GitCommit, nullJSON(r.Hyperparameters), r.CreatedAt, r.UpdatedAt,
	)
	return translate(err, "insert run")
}

func (s *PostgresStore) findRun(ctx context.Context, runID id.RunID, lock string) (*models.Run, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`+lock,
		uuid.UUID(runID),
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, translate(err, "find run")
	}
	return r, nil
}

func (s *PostgresStore) FindRun(ctx context.Context, runID id.RunID) (*models.Run, error) {
	return s.findRun(ctx, runID, "")
}

func (s *PostgresStore) FindRunForUpdate(ctx context.Context, runID id.RunID) (*models.Run, error) {
	return s.findRun(ctx, runID, " FOR UPDATE")
}

func (s *PostgresStore) ListRunsByExperiment(ctx context.Context, expID id.ExperimentID) ([]*models.Run, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE experiment_id = $1 ORDER BY created_at, id`,
		uuid.UUID(expID),
	)
	if err != nil {
		return nil, translate(err, "list runs")
	}
	defer rows.Close()

	out := []*models.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, translate(rows.Err(), "list runs")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *models.Run) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE runs SET git_commit = $2, hyperparameters = $3, updated_at = $4 WHERE id = $1`,
		uuid.UUID(r.ID), r.GitCommit, nullJSON(r.Hyperparameters), r.UpdatedAt,
	)
	if err != nil {
		return translate(err, "update run")
	}
	return expectOne(res, "update run")
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID id.RunID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, uuid.UUID(runID))
	if err != nil {
		return translate(err, "delete run")
	}
	return expectOne(res, "delete run")
}

func (s *PostgresStore) DeleteRunsByExperiment(ctx context.Context, expID id.ExperimentID) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM runs WHERE experiment_id = $1`, uuid.UUID(expID))
	if err != nil {
		return 0, translate(err, "delete runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return int(n), nil
}

// Test cases

const testCaseColumns = `id, owner_id, created_by, name, type, payload, context, retrieval_context, additional_metadata, created_at, updated_at`

// Array columns are read as JSON so scanning does not depend on the driver's
// array format.
const testCaseSelect = `id, owner_id, created_by, name, type, payload, to_json(context), to_json(retrieval_context), additional_metadata, created_at, updated_at`

func scanTestCase(row scanner) (*models.TestCase, error) {
	var (
		tc        models.TestCase
		tcID      uuid.UUID
		ownerID   uuid.NullUUID
		createdBy uuid.UUID
		typ       string
		payload   []byte
		ctxJSON   []byte
		retrieval []byte
		metadata  []byte
	)
	if err := row.Scan(
		&tcID, &ownerID, &createdBy, &tc.Name, &typ, &payload,
		&ctxJSON, &retrieval, &metadata,
		&tc.CreatedAt, &tc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if tc.Context, err = decodeStrings(ctxJSON); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if tc.RetrievalContext, err = decodeStrings(retrieval); err != nil {
		return nil, fmt.Errorf("decode retrieval context: %w", err)
	}
	tc.ID = id.TestCaseID(tcID)
	if ownerID.Valid {
		owner := id.UserID(ownerID.UUID)
		tc.OwnerID = &owner
	}
	tc.CreatedBy = id.UserID(createdBy)
	tc.Type = models.TestCaseType(typ)
	p, err := models.DecodeStoredPayload(tc.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	tc.Payload = p
	tc.AdditionalMetadata = rawJSON(metadata)
	tc.CreatedAt = tc.CreatedAt.UTC()
	tc.UpdatedAt = tc.UpdatedAt.UTC()
	return &tc, nil
}

func ownerArg(owner *id.UserID) uuid.NullUUID {
	if owner == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*owner), Valid: true}
}

func (s *PostgresStore) CreateTestCase(ctx context.Context, tc *models.TestCase) error {
	payload, err := models.MarshalPayload(tc.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx,
		`INSERT INTO test_cases (`+testCaseColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		uuid.UUID(tc.ID), ownerArg(tc.OwnerID), uuid.UUID(tc.CreatedBy), tc.Name, string(tc.Type), string(payload),
		pq.Array(tc.Context), pq.Array(tc.RetrievalContext), nullJSON(tc.AdditionalMetadata),
		tc.CreatedAt, tc.UpdatedAt,
	)
	return translate(err, "insert test case")
}

func (s *PostgresStore) findTestCase(ctx context.Context, tcID id.TestCaseID, lock string) (*models.TestCase, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+testCaseSelect+` FROM test_cases WHERE id = $1`+lock,
		uuid.UUID(tcID),
	)
	tc, err := scanTestCase(row)
	if err != nil {
		return nil, translate(err, "find test case")
	}
	return tc, nil
}

func (s *PostgresStore) FindTestCase(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error) {
	return s.findTestCase(ctx, tcID, "")
}

func (s *PostgresStore) FindTestCaseForUpdate(ctx context.Context, tcID id.TestCaseID) (*models.TestCase, error) {
	return s.findTestCase(ctx, tcID, " FOR UPDATE")
}

func (s *PostgresStore) queryTestCases(ctx context.Context, where string, args ...any) ([]*models.TestCase, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+testCaseSelect+` FROM test_cases WHERE `+where+` ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, translate(err, "list test cases")
	}
	defer rows.Close()

	out := []*models.TestCase{}
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		out = append(out, tc)
	}
	return out, translate(rows.Err(), "list test cases")
}

func (s *PostgresStore) ListTestCasesByOwner(ctx context.Context, owner id.UserID) ([]*models.TestCase, error) {
	return s.queryTestCases(ctx, `owner_id = $1`, uuid.UUID(owner))
}

func (s *PostgresStore) ListGlobalTestCases(ctx context.Context) ([]*models.TestCase, error) {
	return s.queryTestCases(ctx, `owner_id IS NULL`)
}

func (s *PostgresStore) ListTestCasesByType(ctx context.Context, owner id.UserID, t models.TestCaseType, includeGlobal bool) ([]*models.TestCase, error) {
	if includeGlobal {
		return s.queryTestCases(ctx, `type = $1 AND (owner_id = $2 OR owner_id IS NULL)`, string(t), uuid.UUID(owner))
	}
	return s.queryTestCases(ctx, `type = $1 AND owner_id = $2`, string(t), uuid.UUID(owner))
}

func (s *PostgresStore) UpdateTestCase(ctx context.Context, tc *models.TestCase) error {
	payload, err := models.MarshalPayload(tc.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE test_cases
		 SET name = $2, payload = $3, context = $4, retrieval_context = $5, additional_metadata = $6, updated_at = $7
		 WHERE id = $1`,
		uuid.UUID(tc.ID), tc.Name, string(payload),
		pq.Array(tc.Context), pq.Array(tc.RetrievalContext), nullJSON(tc.AdditionalMetadata), tc.UpdatedAt,
	)
	if err != nil {
		return translate(err, "update test case")
	}
	return expectOne(res, "update test case")
}

func (s *PostgresStore) DeleteTestCase(ctx context.Context, tcID id.TestCaseID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM test_cases WHERE id = $1`, uuid.UUID(tcID))
	if err != nil {
		return translate(err, "delete test case")
	}
	return expectOne(res, "delete test case")
}

// Test results

const testResultColumns = `id, run_id, test_case_id, name, success, conversational, multimodal,
	input, actual_output, expected_output, context, retrieval_context,
	metrics_data, additional_metadata, executed_at`

const testResultSelect = `id, run_id, test_case_id, name, success, conversational, multimodal,
	input, actual_output, expected_output, to_json(context), to_json(retrieval_context),
	metrics_data, additional_metadata, executed_at`

func scanTestResult(row scanner) (*models.TestResult, error) {
	var (
		r          models.TestResult
		resID      uuid.UUID
		runID      uuid.UUID
		tcID       uuid.UUID
		multimodal sql.NullBool
		input      sql.NullString
		actual     sql.NullString
		expected   sql.NullString
		ctxJSON    []byte
		retrieval  []byte
		metrics    []byte
		metadata   []byte
		executedAt time.Time
	)
	if err := row.Scan(
		&resID, &runID, &tcID, &r.Name, &r.Success, &r.Conversational, &multimodal,
		&input, &actual, &expected, &ctxJSON, &retrieval,
		&metrics, &metadata, &executedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if r.Context, err = decodeStrings(ctxJSON); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if r.RetrievalContext, err = decodeStrings(retrieval); err != nil {
		return nil, fmt.Errorf("decode retrieval context: %w", err)
	}
	r.ID = id.TestResultID(resID)
	r.RunID = id.RunID(runID)
	r.TestCaseID = id.TestCaseID(tcID)
	if multimodal.Valid {
		b := multimodal.Bool
		r.Multimodal = &b
	}
	r.Input = nullString(input)
	r.ActualOutput = nullString(actual)
	r.ExpectedOutput = nullString(expected)
	r.MetricsData = []models.MetricData{}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &r.MetricsData); err != nil {
			return nil, fmt.Errorf("decode metrics data: %w", err)
		}
	}
	r.AdditionalMetadata = rawJSON(metadata)
	r.ExecutedAt = executedAt.UTC()
	return &r, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// CreateTestResults inserts every result inside one transaction, opening one
// when ctx carries none.
func (s *PostgresStore) CreateTestResults(ctx context.Context, results []*models.TestResult) error {
	if len(results) == 0 {
		return nil
	}
	if _, ok := tx.From(ctx); !ok {
		return tx.NewSQLRunner(s.db, 0).RunInTx(ctx, func(txCtx context.Context) error {
			return s.CreateTestResults(txCtx, results)
		})
	}
	conn := s.conn(ctx)
	for _, r := range results {
		metrics, err := json.Marshal(r.MetricsData)
		if err != nil {
			return fmt.Errorf("encode metrics data: %w", err)
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO test_results (`+testResultColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			uuid.UUID(r.ID), uuid.UUID(r.RunID), uuid.UUID(r.TestCaseID), r.Name, r.Success, r.Conversational, r.Multimodal,
			r.Input, r.ActualOutput, r.ExpectedOutput, pq.Array(r.Context), pq.Array(r.RetrievalContext),
			string(metrics), nullJSON(r.AdditionalMetadata), r.ExecutedAt,
		)
		if err != nil {
			return translate(err, "insert test result")
		}
	}
	return nil
}

func (s *PostgresStore) FindTestResult(ctx context.Context, resID id.TestResultID) (*models.TestResult, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+testResultSelect+` FROM test_results WHERE id = $1`,
		uuid.UUID(resID),
	)
	r, err := scanTestResult(row)
	if err != nil {
		return nil, translate(err, "find test result")
	}
	return r, nil
}

func (s *PostgresStore) ListTestResultsByRun(ctx context.Context, runID id.RunID) ([]*models.TestResult, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+testResultSelect+` FROM test_results WHERE run_id = $1 ORDER BY seq`,
		uuid.UUID(runID),
	)
	if err != nil {
		return nil, translate(err, "list test results")
	}
	defer rows.Close()

	out := []*models.TestResult{}
	for rows.Next() {
		r, err := scanTestResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		out = append(out, r)
	}
	return out, translate(rows.Err(), "list test results")
}

func (s *PostgresStore) DeleteTestResultsByRuns(ctx context.Context, runIDs []id.RunID) (int, error) {
	if len(runIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(runIDs))
	for i, r := range runIDs {
		ids[i] = r.String()
	}
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM test_results WHERE run_id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, translate(err, "delete test results")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete test results: %w", err)
	}
	return int(n), nil
}
