package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(fmt.Sprintf("file:%s?cache=shared&mode=rwc", path))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	return db
}

func countActive(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM workshops WHERE is_active = 1`).Scan(&n); err != nil {
		t.Fatalf("Failed to count active workshops: %v", err)
	}
	return n
}

func TestCreateWorkshopRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateWorkshop(ctx, "2025-06-01", "Intro to Lambda", "Jane", "10:00", 0, 2)
	if err != nil {
		t.Fatalf("Failed to create workshop: %v", err)
	}

	got, err := db.ActiveWorkshop(ctx)
	if err != nil {
		t.Fatalf("Failed to get active workshop: %v", err)
	}

	if got.ID != created.ID {
		t.Errorf("Expected id %d, got %d", created.ID, got.ID)
	}
	if got.Date != "2025-06-01" || got.Topic != "Intro to Lambda" ||
		got.Instructor != "Jane" || got.Time != "10:00" {
		t.Errorf("Workshop fields did not round-trip: %+v", got)
	}
	if got.Price != 0 {
		t.Errorf("Expected price 0, got %v", got.Price)
	}
	if got.MaxParticipants != 2 {
		t.Errorf("Expected max_participants 2, got %d", got.MaxParticipants)
	}
	if !got.IsActive {
		t.Error("Expected the created workshop to be active")
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
}

func TestCreateWorkshopDeactivatesPrevious(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w1, err := db.CreateWorkshop(ctx, "2025-06-01", "Workshop One", "Jane", "10:00", 10, 20)
	if err != nil {
		t.Fatalf("Failed to create first workshop: %v", err)
	}
	w2, err := db.CreateWorkshop(ctx, "2025-07-01", "Workshop Two", "John", "14:00", 20, 30)
	if err != nil {
		t.Fatalf("Failed to create second workshop: %v", err)
	}

	active, err := db.ActiveWorkshop(ctx)
	if err != nil {
		t.Fatalf("Failed to get active workshop: %v", err)
	}
	if active.ID != w2.ID {
		t.Errorf("Expected workshop %d active, got %d", w2.ID, active.ID)
	}

	workshops, err := db.ListWorkshops(ctx)
	if err != nil {
		t.Fatalf("Failed to list workshops: %v", err)
	}
	if len(workshops) != 2 {
		t.Fatalf("Expected 2 workshops, got %d", len(workshops))
	}
	for _, w := range workshops {
		if w.ID == w1.ID && w.IsActive {
			t.Error("Expected the first workshop to be deactivated")
		}
	}
	if n := countActive(t, db); n != 1 {
		t.Errorf("Expected exactly 1 active workshop, got %d", n)
	}
}

func TestActivateWorkshop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w1, err := db.CreateWorkshop(ctx, "2025-06-01", "Workshop One", "Jane", "10:00", 10, 20)
	if err != nil {
		t.Fatalf("Failed to create first workshop: %v", err)
	}
	if _, err := db.CreateWorkshop(ctx, "2025-07-01", "Workshop Two", "John", "14:00", 20, 30); err != nil {
		t.Fatalf("Failed to create second workshop: %v", err)
	}

	if err := db.ActivateWorkshop(ctx, w1.ID); err != nil {
		t.Fatalf("Failed to activate workshop: %v", err)
	}

	active, err := db.ActiveWorkshop(ctx)
	if err != nil {
		t.Fatalf("Failed to get active workshop: %v", err)
	}
	if active.ID != w1.ID {
		t.Errorf("Expected workshop %d active, got %d", w1.ID, active.ID)
	}
	if n := countActive(t, db); n != 1 {
		t.Errorf("Expected exactly 1 active workshop, got %d", n)
	}
}

func TestActivateWorkshopNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w, err := db.CreateWorkshop(ctx, "2025-06-01", "Workshop One", "Jane", "10:00", 10, 20)
	if err != nil {
		t.Fatalf("Failed to create workshop: %v", err)
	}

	err = db.ActivateWorkshop(ctx, 9999)
	if !errors.Is(err, ErrWorkshopNotFound) {
		t.Fatalf("Expected ErrWorkshopNotFound, got %v", err)
	}

	// The failed activation must roll back; the previous workshop stays active.
	active, err := db.ActiveWorkshop(ctx)
	if err != nil {
		t.Fatalf("Failed to get active workshop: %v", err)
	}
	if active.ID != w.ID {
		t.Errorf("Expected workshop %d to remain active, got %d", w.ID, active.ID)
	}
}

func TestActiveWorkshopNone(t *testing.T) {
	db := newTestDB(t)

	_, err := db.ActiveWorkshop(context.Background())
	if !errors.Is(err, ErrNoActiveWorkshop) {
		t.Fatalf("Expected ErrNoActiveWorkshop, got %v", err)
	}
}

func TestSingleActiveInvariant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		w, err := db.CreateWorkshop(ctx, fmt.Sprintf("2025-06-%02d", i+1),
			fmt.Sprintf("Workshop %d", i+1), "Jane", "10:00", 0, 10)
		if err != nil {
			t.Fatalf("Failed to create workshop %d: %v", i, err)
		}
		ids = append(ids, w.ID)

		if n := countActive(t, db); n != 1 {
			t.Fatalf("After create %d: expected 1 active workshop, got %d", i, n)
		}
	}

	for _, id := range ids {
		if err := db.ActivateWorkshop(ctx, id); err != nil {
			t.Fatalf("Failed to activate workshop %d: %v", id, err)
		}
		if n := countActive(t, db); n != 1 {
			t.Fatalf("After activating %d: expected 1 active workshop, got %d", id, n)
		}
	}
}

func TestRegistrationCapacity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w, err := db.CreateWorkshop(ctx, "2025-06-01", "Intro to Lambda", "Jane", "10:00", 0, 2)
	if err != nil {
		t.Fatalf("Failed to create workshop: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, _, err := db.CreateRegistration(ctx,
			fmt.Sprintf("Gopher %d", i), fmt.Sprintf("gopher%d@example.com", i),
			"", "", "beginner")
		if err != nil {
			t.Fatalf("Registration %d failed: %v", i, err)
		}
	}

	_, _, err = db.CreateRegistration(ctx, "Gopher 3", "gopher3@example.com", "", "", "beginner")
	if !errors.Is(err, ErrWorkshopFull) {
		t.Fatalf("Expected ErrWorkshopFull, got %v", err)
	}

	count, err := db.CountRegistrations(ctx, w.ID)
	if err != nil {
		t.Fatalf("Failed to count registrations: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 registrations, got %d", count)
	}
}

func TestRegistrationNoActiveWorkshop(t *testing.T) {
	db := newTestDB(t)

	_, _, err := db.CreateRegistration(context.Background(),
		"Gopher", "gopher@example.com", "", "", "beginner")
	if !errors.Is(err, ErrNoActiveWorkshop) {
		t.Fatalf("Expected ErrNoActiveWorkshop, got %v", err)
	}
}

func TestRegistrationBindsActiveWorkshop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w1, err := db.CreateWorkshop(ctx, "2025-06-01", "Workshop One", "Jane", "10:00", 0, 10)
	if err != nil {
		t.Fatalf("Failed to create first workshop: %v", err)
	}
	reg1, _, err := db.CreateRegistration(ctx, "Early Bird", "early@example.com", "", "", "beginner")
	if err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if reg1.WorkshopID != w1.ID {
		t.Errorf("Expected registration bound to workshop %d, got %d", w1.ID, reg1.WorkshopID)
	}

	w2, err := db.CreateWorkshop(ctx, "2025-07-01", "Workshop Two", "John", "14:00", 0, 10)
	if err != nil {
		t.Fatalf("Failed to create second workshop: %v", err)
	}
	reg2, _, err := db.CreateRegistration(ctx, "Late Comer", "late@example.com", "", "", "advanced")
	if err != nil {
		t.Fatalf("Second registration failed: %v", err)
	}
	if reg2.WorkshopID != w2.ID {
		t.Errorf("Expected registration bound to workshop %d, got %d", w2.ID, reg2.WorkshopID)
	}

	// The earlier registration stays tied to the workshop active at its
	// submission time.
	count, err := db.CountRegistrations(ctx, w1.ID)
	if err != nil {
		t.Fatalf("Failed to count registrations: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 registration for the first workshop, got %d", count)
	}
}

func TestListRegistrationsJoinsWorkshop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateWorkshop(ctx, "2025-06-01", "Intro to Lambda", "Jane", "10:00", 0, 10); err != nil {
		t.Fatalf("Failed to create workshop: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, _, err := db.CreateRegistration(ctx,
			fmt.Sprintf("Gopher %d", i), fmt.Sprintf("gopher%d@example.com", i),
			"555-0100", "Acme", "intermediate")
		if err != nil {
			t.Fatalf("Registration %d failed: %v", i, err)
		}
	}

	records, err := db.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("Failed to list registrations: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	// Most recent first.
	if records[0].Name != "Gopher 2" {
		t.Errorf("Expected the most recent registration first, got %q", records[0].Name)
	}
	for _, rec := range records {
		if rec.WorkshopTopic != "Intro to Lambda" || rec.WorkshopDate != "2025-06-01" || rec.WorkshopTime != "10:00" {
			t.Errorf("Record missing workshop metadata: %+v", rec)
		}
		if rec.ConfirmationCode == "" {
			t.Error("Expected a confirmation code on every registration")
		}
	}
}

func TestConcurrentRegistrations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	totalCapacity := 5
	if _, err := db.CreateWorkshop(ctx, "2025-06-01", "The Big GopherCon", "Jane", "09:00", 0, totalCapacity); err != nil {
		t.Fatalf("Failed to create workshop: %v", err)
	}

	numRequests := 50
	var successCount int32
	var fullCount int32
	var errorCount int32

	var wg sync.WaitGroup
	wg.Add(numRequests)

	for i := 0; i < numRequests; i++ {
		go func(requestID int) {
			defer wg.Done()

			_, _, err := db.CreateRegistration(ctx,
				fmt.Sprintf("Gopher %d", requestID),
				fmt.Sprintf("gopher%d@example.com", requestID),
				"", "", "beginner")
			if err == nil {
				atomic.AddInt32(&successCount, 1)
			} else if errors.Is(err, ErrWorkshopFull) {
				atomic.AddInt32(&fullCount, 1)
			} else {
				t.Logf("Unexpected error for request %d: %v", requestID, err)
				atomic.AddInt32(&errorCount, 1)
			}
		}(i)
	}

	wg.Wait()

	if successCount != int32(totalCapacity) {
		t.Errorf("Expected exactly %d successes, but got %d", totalCapacity, successCount)
	}
	if fullCount != int32(numRequests-totalCapacity) {
		t.Errorf("Expected exactly %d full errors, but got %d", numRequests-totalCapacity, fullCount)
	}
	if errorCount != 0 {
		t.Errorf("Expected 0 unexpected errors, but got %d", errorCount)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM registrations`).Scan(&rows); err != nil {
		t.Fatalf("Failed to count registration rows: %v", err)
	}
	if rows != totalCapacity {
		t.Errorf("Expected exactly %d registration rows in DB, but got %d", totalCapacity, rows)
	}
}
