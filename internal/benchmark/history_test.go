package benchmark

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func storedResult(name string, start time.Time, rps float64) *LoadTestResult {
	r := resultWith(name, rps, 10)
	r.Summary.StartTime = start
	return r
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var saved []*LoadTestResult
	for i := 0; i < 3; i++ {
		r := storedResult("file", base.Add(time.Duration(i)*time.Minute), float64(100+i))
		if err := store.Save(context.Background(), r); err != nil {
			t.Fatalf("save: %v", err)
		}
		saved = append(saved, r)
	}

	// Stray files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "99999999_broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(context.Background(), 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 results, got %d", len(loaded))
	}
	for i := range saved {
		if loaded[i].ID != saved[i].ID {
			t.Errorf("result %d out of order", i)
		}
	}

	limited, err := store.Load(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	// The broken file sorts last and is skipped, leaving only the newest valid one.
	if len(limited) != 1 || limited[0].ID != saved[2].ID {
		t.Errorf("expected only the newest valid result, got %d", len(limited))
	}
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS benchmark_results").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	r := storedResult("pg", time.Now(), 50)
	mock.ExpectExec("INSERT INTO benchmark_results").
		WithArgs(r.ID, "pg", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewPostgresStore(db)
	if err := store.Save(context.Background(), r); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_LoadOldestFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	older := storedResult("pg", time.Now().Add(-time.Hour), 10)
	newer := storedResult("pg", time.Now(), 20)
	olderJSON, _ := json.Marshal(older)
	newerJSON, _ := json.Marshal(newer)

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow(newerJSON).
		AddRow(olderJSON)
	mock.ExpectQuery("SELECT payload FROM benchmark_results").
		WithArgs(2).
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	results, err := store.Load(context.Background(), 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != older.ID || results[1].ID != newer.ID {
		t.Error("expected results oldest first")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSuite_PersistFailureIsLogged(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	mock.ExpectExec("INSERT INTO benchmark_results").WillReturnError(os.ErrPermission)

	suite := NewSuite(instantTarget(), WithHistoryStore(NewPostgresStore(db)))
	suite.RecordResult(context.Background(), resultWith("pg", 10, 10))

	if len(suite.History()) != 1 {
		t.Error("in-memory history should keep the result when persistence fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
