package service_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/db"
	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dietweb.db")
	sqldb, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	return sqldb
}

func day(t *testing.T, date string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02 15:04", date+" 12:00", time.UTC)
	if err != nil {
		t.Fatalf("parse date %q: %v", date, err)
	}
	return d
}

func newTestLedger(t *testing.T, store kv.Store, date string) *ledger.Ledger {
	t.Helper()
	now := day(t, date)
	l := ledger.New(store, ledger.WithClock(func() time.Time { return now }))
	if _, err := l.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize ledger: %v", err)
	}
	return l
}

func referenceProfile() model.Profile {
	return model.Profile{Sex: model.SexMale, HeightCm: 175, WeightKg: 75, Age: 20, Activity: 1.2, Goal: model.GoalMaintain}
}
