package dietweb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/app"
	"github.com/pcrpg2df4s-blip/dietweb/internal/config"
	"github.com/pcrpg2df4s-blip/dietweb/internal/db"
	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/kv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/logging"
	"github.com/pcrpg2df4s-blip/dietweb/internal/provider/openfoodfacts"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
	"github.com/spf13/cobra"
)

// session is what every command that touches the database works with: the
// effective configuration after app_config overrides, and an open database.
type session struct {
	db        *sql.DB
	cfg       config.Config
	log       logging.Logger
	tolerance float64
}

func loadConfig() (config.Config, error) {
	path := configPath
	required := path != ""
	if path == "" {
		p, err := app.DefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path, required, ".env")
	if err != nil {
		return cfg, err
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func resolveDBPath(cfg config.Config) (string, error) {
	if strings.TrimSpace(cfg.Storage.DBPath) != "" {
		return cfg.Storage.DBPath, nil
	}
	return app.DefaultDBPath()
}

func withDB(cfg config.Config, run func(*sql.DB) error) error {
	path, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	if err := app.EnsureDBDir(path); err != nil {
		return err
	}
	sqldb, err := db.Open(path)
	if err != nil {
		return err
	}
	defer sqldb.Close()

	if err := db.ApplyMigrations(sqldb); err != nil {
		return err
	}
	return run(sqldb)
}

func withSession(cmd *cobra.Command, run func(*session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return withDB(cfg, func(sqldb *sql.DB) error {
		s := &session{db: sqldb, cfg: cfg, tolerance: service.DefaultTolerance}
		if err := s.applyOverrides(); err != nil {
			return err
		}
		log, err := logging.New(cmd.ErrOrStderr(), s.cfg.Log.Level, s.cfg.Log.Format)
		if err != nil {
			return err
		}
		s.log = log
		return run(s)
	})
}

// applyOverrides layers the app_config settings over the file config.
func (s *session) applyOverrides() error {
	settings, err := service.ListConfig(s.db)
	if err != nil {
		return err
	}
	if v, ok := settings[service.ConfigEstimatorModel]; ok {
		s.cfg.Estimator.Model = v
	}
	if v, ok := settings[service.ConfigKeepOnTruncate]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid stored %s %q", service.ConfigKeepOnTruncate, v)
		}
		s.cfg.Storage.KeepOnTruncate = n
	}
	if v, ok := settings[service.ConfigQuotaBytes]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored %s %q", service.ConfigQuotaBytes, v)
		}
		s.cfg.Storage.QuotaBytes = n
	}
	if v, ok := settings[service.ConfigHistoryTolerance]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid stored %s %q", service.ConfigHistoryTolerance, v)
		}
		s.tolerance = f
	}
	return s.cfg.Validate()
}

func (s *session) ledgerOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithClock(now),
		ledger.WithLogger(s.log.With("user", userID)),
		ledger.WithKeepOnTruncate(s.cfg.Storage.KeepOnTruncate),
	}
}

func (s *session) store() (*kv.SQLiteStore, error) {
	if err := db.AddUser(s.db, userID); err != nil {
		return nil, err
	}
	return kv.NewSQLiteStore(s.db, userID, s.cfg.Storage.QuotaBytes)
}

// openLedger loads the user's ledger and rolls it over to today. Exhausted
// storage is reported as a warning; the in-memory state is still usable.
func (s *session) openLedger(ctx context.Context, cmd *cobra.Command) (*ledger.Ledger, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	l := ledger.New(store, s.ledgerOptions()...)
	if _, err := l.Initialize(ctx); err != nil {
		if !errors.Is(err, ledger.ErrStorageExhausted) {
			return nil, err
		}
		warnExhausted(cmd, err)
	}
	return l, nil
}

func withLedger(cmd *cobra.Command, run func(*session, *ledger.Ledger) error) error {
	return withSession(cmd, func(s *session) error {
		l, err := s.openLedger(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		return run(s, l)
	})
}

// gemini returns nil sources when no API key is configured, which makes
// callers log fallback entries and default tips.
func (s *session) gemini() (estimator.Estimator, estimator.TipSource) {
	if strings.TrimSpace(s.cfg.Estimator.APIKey) == "" {
		return nil, nil
	}
	c := &estimator.GeminiClient{
		APIKey:     s.cfg.Estimator.APIKey,
		BaseURL:    s.cfg.Estimator.BaseURL,
		Model:      s.cfg.Estimator.Model,
		HTTPClient: &http.Client{Timeout: s.cfg.Estimator.Timeout.Duration},
		Retry:      s.cfg.RetryPolicy(),
	}
	return c, c
}

func (s *session) barcodes() *openfoodfacts.Client {
	return &openfoodfacts.Client{
		BaseURL:    s.cfg.Estimator.BarcodeURL,
		HTTPClient: &http.Client{Timeout: s.cfg.Estimator.Timeout.Duration},
	}
}

// checkStored turns storage exhaustion into a warning. The change is kept in
// memory for this run only.
func checkStored(cmd *cobra.Command, err error) error {
	if errors.Is(err, ledger.ErrStorageExhausted) {
		warnExhausted(cmd, err)
		return nil
	}
	return err
}

func warnExhausted(cmd *cobra.Command, err error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; the food log could not be saved\n", err)
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (expected YYYY-MM-DD)", name, value)
	}
	return t, nil
}

// parseClock places HH:MM on today's date.
func parseClock(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	today := now()
	t, err := time.ParseInLocation("2006-01-02 15:04", today.Format("2006-01-02")+" "+value, today.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --time %q (expected HH:MM)", value)
	}
	return t, nil
}
