package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/db"
	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/metrics"
)

// Registry holds one ledger per user, each stored in its own kv namespace.
// Operations on a single user's ledger are serialized.
type Registry struct {
	db    *sql.DB
	quota int64
	log   logging.Logger
	now   func() time.Time
	opts  []ledger.Option

	mu      sync.Mutex
	ledgers map[string]*userLedger
}

type userLedger struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
}

func NewRegistry(sqldb *sql.DB, quota int64, log logging.Logger, now func() time.Time, opts ...ledger.Option) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		db:      sqldb,
		quota:   quota,
		log:     log,
		now:     now,
		opts:    opts,
		ledgers: map[string]*userLedger{},
	}
}

// With runs fn with exclusive access to the user's ledger, loading it on
// first use. The ledger is rolled over to today before fn runs.
func (r *Registry) With(ctx context.Context, userID string, fn func(*ledger.Ledger) error) error {
	u, err := r.get(ctx, userID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.ledger.Rollover(ctx, r.now()); err != nil && !errors.Is(err, ledger.ErrStorageExhausted) {
		return err
	}
	return fn(u.ledger)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledgers)
}

func (r *Registry) get(ctx context.Context, userID string) (*userLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.ledgers[userID]; ok {
		return u, nil
	}

	if err := db.AddUser(r.db, userID); err != nil {
		return nil, err
	}
	store, err := kv.NewSQLiteStore(r.db, userID, r.quota)
	if err != nil {
		return nil, err
	}
	log := r.log.With("user", userID)
	opts := append([]ledger.Option{ledger.WithClock(r.now), ledger.WithLogger(log)}, r.opts...)
	l := ledger.New(store, opts...)
	if _, err := l.Initialize(ctx); err != nil {
		if !errors.Is(err, ledger.ErrStorageExhausted) {
			return nil, fmt.Errorf("initialize ledger for %s: %w", userID, err)
		}
		log.Warn(ctx, "ledger initialized with exhausted storage", "error", err)
	}
	u := &userLedger{ledger: l}
	r.ledgers[userID] = u
	metrics.ActiveLedgers.Inc()
	return u, nil
}
