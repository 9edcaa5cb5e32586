package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_ClaimRemediationRun shows that a run executes at most once.
func ExampleSQLiteStore_ClaimRemediationRun() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	_ = store.CreateRemediationRun(ctx, &engine.RemediationRun{
		RunID:       "run-001",
		RequestID:   "req-001",
		Status:      engine.RemediationPendingApproval,
		MaxAttempts: 3,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	run, err := store.ClaimRemediationRun(ctx, "run-001", now)
	fmt.Println(run.Status, err)

	_, err = store.ClaimRemediationRun(ctx, "run-001", now)
	fmt.Println(err)
	// Output:
	// in_progress <nil>
	// remediation run already consumed
}

// ExampleSQLiteStore_AppendAudit demonstrates writing and reading the audit trail.
func ExampleSQLiteStore_AppendAudit() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.AppendAudit(ctx, &stores.AuditEntry{
		Action:    stores.AuditRemediationDenied,
		Actor:     "alice",
		TargetID:  "run-001",
		Outcome:   "denied",
		Timestamp: time.Now(),
	})

	entries, _ := store.ListAuditEntries(ctx, stores.AuditFilter{Actor: "alice"})
	for _, e := range entries {
		fmt.Println(e.Action, e.TargetID)
	}
	// Output: remediation.denied run-001
}
