package stores

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stackmend/stackmend/pkg/deploy"
	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/fixer"
	"github.com/stackmend/stackmend/pkg/template"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testTemplate(t *testing.T) *template.Template {
	t.Helper()

	tpl, err := template.Parse([]byte(`{
		"AWSTemplateFormatVersion": "2010-09-09",
		"Resources": {
			"Queue": {"Type": "AWS::SQS::Queue", "Properties": {}}
		}
	}`))
	if err != nil {
		t.Fatalf("failed to parse template: %v", err)
	}
	return tpl
}

func testResult(t *testing.T, runID string, startedAt time.Time) *deploy.Result {
	t.Helper()

	return &deploy.Result{
		RunID:         runID,
		Target:        "orders-stack",
		Success:       true,
		State:         engine.RunStateSucceeded,
		FinalTemplate: testTemplate(t),
		StartedAt:     startedAt,
		CompletedAt:   startedAt.Add(time.Minute),
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"runs", "attempts", "failure_events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	result := testResult(t, "run-1", started)
	result.FixesApplied = []fixer.Fix{
		{
			ID:          "fix-1",
			ResourceID:  "Fn",
			Kind:        fixer.FixMissingCompanion,
			Description: "added execution role",
			Confidence:  fixer.ConfidenceHigh,
		},
	}

	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if run.Target != "orders-stack" {
		t.Errorf("expected target %q, got %q", "orders-stack", run.Target)
	}
	if !run.Success {
		t.Error("expected run to be marked successful")
	}
	if run.State != string(engine.RunStateSucceeded) {
		t.Errorf("expected state %q, got %q", engine.RunStateSucceeded, run.State)
	}
	if run.FinalTemplate == nil {
		t.Fatal("expected final template to be persisted")
	}

	var fixes []fixer.Fix
	if err := json.Unmarshal([]byte(run.Fixes), &fixes); err != nil {
		t.Fatalf("failed to unmarshal fixes: %v", err)
	}
	if len(fixes) != 1 || fixes[0].ID != "fix-1" {
		t.Errorf("unexpected fixes roundtrip: %+v", fixes)
	}
}

func TestSaveRunUpsert(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	result := testResult(t, "run-1", started)
	result.Success = false
	result.State = engine.RunStateFailedRetryable

	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	result.Success = true
	result.State = engine.RunStateSucceeded
	if err := store.SaveRun(ctx, result); err != nil {
		t.Fatalf("failed to re-save run: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !run.Success || run.State != string(engine.RunStateSucceeded) {
		t.Errorf("expected upserted run to be successful, got success=%v state=%q", run.Success, run.State)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	if _, err := store.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRunsOrder(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		result := testResult(t, id, base.Add(time.Duration(i)*time.Hour))
		if err := store.SaveRun(ctx, result); err != nil {
			t.Fatalf("failed to save run %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" || runs[2].ID != "run-old" {
		t.Errorf("expected newest-first ordering, got %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}

	page, err := store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs with offset: %v", err)
	}
	if len(page) != 1 || page[0].ID != "run-mid" {
		t.Errorf("unexpected pagination result: %+v", page)
	}
}

func TestSaveAndListAttempts(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	first := &deploy.Attempt{
		Number:       1,
		Template:     testTemplate(t),
		OperationID:  "op-1",
		Status:       engine.AttemptStatusFailed,
		StackState:   engine.StackStatusCreateFailed,
		ErrorMessage: "resource Queue already exists",
		StartedAt:    started,
		CompletedAt:  started.Add(30 * time.Second),
	}
	second := &deploy.Attempt{
		Number:      2,
		Template:    testTemplate(t),
		OperationID: "op-2",
		Status:      engine.AttemptStatusSucceeded,
		StackState:  engine.StackStatusCreateComplete,
		StartedAt:   started.Add(time.Minute),
		CompletedAt: started.Add(2 * time.Minute),
	}

	for _, attempt := range []*deploy.Attempt{first, second} {
		if err := store.SaveAttempt(ctx, "run-1", attempt); err != nil {
			t.Fatalf("failed to save attempt %d: %v", attempt.Number, err)
		}
	}

	attempts, err := store.ListAttempts(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Number != 1 || attempts[1].Number != 2 {
		t.Errorf("expected attempt-number ordering, got %d then %d", attempts[0].Number, attempts[1].Number)
	}
	if attempts[0].Status != string(engine.AttemptStatusFailed) {
		t.Errorf("expected first attempt FAILED, got %q", attempts[0].Status)
	}
	if attempts[0].Error == nil || *attempts[0].Error != "resource Queue already exists" {
		t.Errorf("unexpected attempt error: %v", attempts[0].Error)
	}
	if attempts[1].StackState == nil || *attempts[1].StackState != string(engine.StackStatusCreateComplete) {
		t.Errorf("unexpected stack state: %v", attempts[1].StackState)
	}
	if attempts[0].Template == "" {
		t.Error("expected template snapshot to be persisted")
	}
}

func TestAttemptsAppendOnly(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	attempt := &deploy.Attempt{
		Number:    1,
		Template:  testTemplate(t),
		Status:    engine.AttemptStatusFailed,
		StartedAt: time.Now().UTC(),
	}

	if err := store.SaveAttempt(ctx, "run-1", attempt); err != nil {
		t.Fatalf("failed to save attempt: %v", err)
	}
	if err := store.SaveAttempt(ctx, "run-1", attempt); err == nil {
		t.Fatal("expected duplicate attempt number to be rejected")
	}
}

func TestSaveAndListFailureEvents(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	attempt := &deploy.Attempt{
		Number:    1,
		Template:  testTemplate(t),
		Status:    engine.AttemptStatusFailed,
		StartedAt: started,
	}
	if err := store.SaveAttempt(ctx, "run-1", attempt); err != nil {
		t.Fatalf("failed to save attempt: %v", err)
	}

	events := []deploy.FailureEvent{
		{
			ResourceID:   "Queue",
			ResourceType: "AWS::SQS::Queue",
			Status:       "CREATE_FAILED",
			StatusReason: "Queue already exists",
			Timestamp:    started,
		},
		{
			ResourceID:   "Fn",
			ResourceType: "AWS::Lambda::Function",
			Status:       "CREATE_FAILED",
			StatusReason: "access denied",
			Timestamp:    started.Add(time.Second),
		},
	}

	if err := store.SaveFailureEvents(ctx, "run-1", 1, events); err != nil {
		t.Fatalf("failed to save failure events: %v", err)
	}

	got, err := store.ListFailureEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list failure events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 failure events, got %d", len(got))
	}
	if got[0].ResourceID != "Queue" || got[1].ResourceID != "Fn" {
		t.Errorf("expected insertion order, got %s then %s", got[0].ResourceID, got[1].ResourceID)
	}
	if got[1].StatusReason != "access denied" {
		t.Errorf("unexpected status reason: %q", got[1].StatusReason)
	}
}

func TestSaveFailureEventsEmpty(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	if err := store.SaveFailureEvents(context.Background(), "run-1", 1, nil); err != nil {
		t.Fatalf("expected empty event list to be a no-op, got %v", err)
	}
}

func TestDeleteRun(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)

	if err := store.SaveRun(ctx, testResult(t, "run-1", started)); err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	attempt := &deploy.Attempt{
		Number:    1,
		Template:  testTemplate(t),
		Status:    engine.AttemptStatusFailed,
		StartedAt: started,
	}
	if err := store.SaveAttempt(ctx, "run-1", attempt); err != nil {
		t.Fatalf("failed to save attempt: %v", err)
	}
	if err := store.SaveFailureEvents(ctx, "run-1", 1, []deploy.FailureEvent{
		{ResourceID: "Queue", Status: "CREATE_FAILED", Timestamp: started},
	}); err != nil {
		t.Fatalf("failed to save failure events: %v", err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("expected run to be gone")
	}
	attempts, err := store.ListAttempts(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("expected attempts to be gone, got %d", len(attempts))
	}

	if err := store.DeleteRun(ctx, "run-1"); err == nil {
		t.Error("expected delete of missing run to fail")
	}
}
