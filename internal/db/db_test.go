package db

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDB_OpenAndClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	db, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
	// Closing twice is harmless
	if err := db.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestDB_ClosedReturnsInternalError(t *testing.T) {
	db := openTestDB(t)
	db.Close()

	res := db.ListTransactions()
	if res.Code != CodeInternal {
		t.Errorf("Expected INTERNAL_ERROR after close, got %q", res.Code)
	}
}

func TestDB_AddAndList(t *testing.T) {
	db := openTestDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	db.WithClock(clock)

	first := db.AddTransaction("100", "  coffee  ")
	if !first.OK() {
		t.Fatalf("AddTransaction failed: %s", first)
	}
	if first.Value.Comment != "coffee" {
		t.Errorf("Comment not trimmed: %q", first.Value.Comment)
	}
	if first.Value.CreatedAt != "2026-03-01T10:00:00.000000+00:00" {
		t.Errorf("Unexpected createdAt %q", first.Value.CreatedAt)
	}

	clock.Advance(time.Second)
	second := db.AddTransaction("-25.5", "")
	if !second.OK() {
		t.Fatalf("AddTransaction failed: %s", second)
	}

	list := db.ListTransactions()
	if !list.OK() {
		t.Fatalf("ListTransactions failed: %s", list)
	}
	if len(list.Value) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(list.Value))
	}
	if list.Value[0].ID != second.Value.ID || list.Value[1].ID != first.Value.ID {
		t.Errorf("Expected newest first, got ids %d, %d", list.Value[0].ID, list.Value[1].ID)
	}
	if list.Value[0].Amount != -25.5 {
		t.Errorf("Amount = %v, want -25.5", list.Value[0].Amount)
	}
}

func TestDB_ListEmptyIsNotNil(t *testing.T) {
	db := openTestDB(t)
	res := db.ListTransactions()
	if !res.OK() || res.Value == nil || len(res.Value) != 0 {
		t.Errorf("Expected an empty non-nil list, got %#v", res)
	}
}

func TestDB_InvalidAmount(t *testing.T) {
	db := openTestDB(t)

	for _, amount := range []string{"", "abc", "12,5", "NaN", "inf", "1e400"} {
		res := db.AddTransaction(amount, "x")
		if res.Code != CodeInvalidAmount {
			t.Errorf("AddTransaction(%q) code = %q, want INVALID_AMOUNT", amount, res.Code)
		}
	}

	if n := len(db.ListTransactions().Value); n != 0 {
		t.Errorf("Invalid amounts must not be stored, found %d rows", n)
	}
}

func TestDB_IDsStrictlyIncreasing(t *testing.T) {
	db := openTestDB(t)
	clock := clockwork.NewFakeClock()
	db.WithClock(clock)

	var last int64
	for i := 0; i < 5; i++ {
		res := db.AddTransaction("1", "")
		if !res.OK() {
			t.Fatalf("AddTransaction failed: %s", res)
		}
		if res.Value.ID <= last {
			t.Errorf("ID %d not greater than previous %d", res.Value.ID, last)
		}
		last = res.Value.ID
	}

	// A clock stepping backwards still yields a fresh id
	db.WithClock(clockwork.NewFakeClockAt(clock.Now().Add(-time.Hour)))
	res := db.AddTransaction("1", "")
	if res.Value.ID <= last {
		t.Errorf("ID %d after clock step back not greater than %d", res.Value.ID, last)
	}
}

func TestDB_IDsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	future := clockwork.NewFakeClockAt(time.Now().Add(24 * time.Hour))

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	first := db.WithClock(future).AddTransaction("1", "")
	db.Close()

	db, err = Open(path, nil)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	second := db.AddTransaction("2", "")
	if second.Value.ID <= first.Value.ID {
		t.Errorf("ID %d after reopen not greater than %d", second.Value.ID, first.Value.ID)
	}
}

func TestDB_DeleteAndClear(t *testing.T) {
	db := openTestDB(t)
	a := db.AddTransaction("1", "a").Value
	db.AddTransaction("2", "b")
	db.AddTransaction("3", "c")

	del := db.DeleteTransaction(a.ID)
	if !del.OK() || del.Value != 1 {
		t.Errorf("DeleteTransaction = %#v, want 1 deleted", del)
	}
	del = db.DeleteTransaction(a.ID)
	if !del.OK() || del.Value != 0 {
		t.Errorf("Deleting a missing id = %#v, want 0 deleted", del)
	}

	cleared := db.ClearTransactions()
	if !cleared.OK() || cleared.Value != 2 {
		t.Errorf("ClearTransactions = %#v, want 2 removed", cleared)
	}
	if n := len(db.ListTransactions().Value); n != 0 {
		t.Errorf("Expected no transactions after clear, got %d", n)
	}
}

func TestDB_Settings(t *testing.T) {
	db := openTestDB(t)

	got := db.GetSetting("theme")
	if !got.OK() || got.Value.Found {
		t.Errorf("Unset key = %#v, want not found", got)
	}

	db.SetSetting("theme", "dark")
	db.SetSetting("theme", "light")

	got = db.GetSetting("theme")
	if !got.OK() || !got.Value.Found || got.Value.Value != "light" {
		t.Errorf("GetSetting = %#v, want light", got)
	}
}

func TestDB_ConcurrentAdds(t *testing.T) {
	db := openTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := db.AddTransaction("1", ""); !res.OK() {
				t.Errorf("Concurrent add failed: %s", res)
			}
		}()
	}
	wg.Wait()

	list := db.ListTransactions().Value
	if len(list) != 20 {
		t.Fatalf("Expected 20 transactions, got %d", len(list))
	}
	seen := map[int64]bool{}
	for _, tx := range list {
		if seen[tx.ID] {
			t.Errorf("Duplicate id %d", tx.ID)
		}
		seen[tx.ID] = true
	}
}

func TestRecoverResult(t *testing.T) {
	db := openTestDB(t)

	res := func() (res Result[int]) {
		defer recoverResult(db.logger, "boom", &res)
		panic("boom")
	}()

	if res.Code != CodeInternal {
		t.Errorf("Panic code = %q, want INTERNAL_ERROR", res.Code)
	}
	if res.Err == nil {
		t.Error("Expected the panic to be kept as the cause")
	}
}
