package dietweb

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag to its default. Flag variables are package
// globals, so values from one Execute would otherwise leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func setupCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("DIETWEB_DB", "")
	t.Setenv("DIETWEB_BARCODE_URL", "")

	day := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	now = func() time.Time { return day }
	t.Cleanup(func() { now = time.Now })
	return filepath.Join(home, "dietweb.db")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("dietweb %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func setProfile(t *testing.T, db string) string {
	t.Helper()
	return mustRun(t, "--db", db, "profile", "set", "--sex", "male", "--height", "175", "--weight", "75", "--age", "20", "--activity", "1.2", "--goal", "maintain")
}

func TestRootHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	if err != nil {
		t.Fatalf("execute root help: %v", err)
	}
	if out == "" {
		t.Fatalf("expected help output")
	}
}

func TestInitCommandIdempotent(t *testing.T) {
	db := setupCLI(t)
	for i := 0; i < 2; i++ {
		if _, err := runCLI(t, "--db", db, "init"); err != nil {
			t.Fatalf("init run %d failed: %v", i+1, err)
		}
	}
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestProfileSetComputesTargets(t *testing.T) {
	db := setupCLI(t)

	out := mustRun(t, "--db", db, "targets")
	if !strings.Contains(out, "not set") || !strings.Contains(out, "2000 kcal") {
		t.Fatalf("expected default targets, got:\n%s", out)
	}

	out = setProfile(t, db)
	if !strings.Contains(out, "Targets: 2099 kcal | P 157g | C 210g | F 70g") {
		t.Fatalf("unexpected targets:\n%s", out)
	}

	out = mustRun(t, "--db", db, "profile", "show")
	if !strings.Contains(out, "Goal: maintain") {
		t.Fatalf("unexpected profile:\n%s", out)
	}

	if _, err := runCLI(t, "--db", db, "profile", "set", "--sex", "other", "--height", "175", "--weight", "75"); err == nil {
		t.Fatalf("expected invalid sex to fail")
	}
}

func TestFoodLifecycle(t *testing.T) {
	db := setupCLI(t)
	setProfile(t, db)

	out := mustRun(t, "--db", db, "food", "add", "Oatmeal", "--calories", "300", "--protein", "10", "--carbs", "54", "--fat", "5", "--time", "08:30")
	if !strings.Contains(out, "Logged Oatmeal: 300 kcal") {
		t.Fatalf("unexpected add output:\n%s", out)
	}
	id := out[strings.LastIndex(out, "[")+1 : strings.LastIndex(out, "]")]

	mustRun(t, "--db", db, "food", "add", "Apple", "--calories", "95")
	out = mustRun(t, "--db", db, "food", "list")
	if strings.Index(out, "Apple") > strings.Index(out, "Oatmeal") {
		t.Fatalf("expected newest entry first:\n%s", out)
	}

	mustRun(t, "--db", db, "food", "edit", id, "--calories", "350")
	out = mustRun(t, "--db", db, "today")
	if !strings.Contains(out, "Eaten: 445 / 2099 kcal") {
		t.Fatalf("unexpected today output:\n%s", out)
	}

	mustRun(t, "--db", db, "food", "delete", id)
	out = mustRun(t, "--db", db, "today")
	if !strings.Contains(out, "Eaten: 95 / 2099 kcal") {
		t.Fatalf("unexpected today output after delete:\n%s", out)
	}

	if _, err := runCLI(t, "--db", db, "food", "delete", id); err == nil {
		t.Fatalf("expected deleting a missing entry to fail")
	}
	if _, err := runCLI(t, "--db", db, "food", "add", "Soup", "--calories", "-5"); err == nil {
		t.Fatalf("expected negative calories to fail")
	}
}

func TestFoodAddDescribeFallsBackWithoutAPIKey(t *testing.T) {
	db := setupCLI(t)
	out := mustRun(t, "--db", db, "food", "add", "Eggs", "--describe", "two fried eggs", "--calories", "200")
	if !strings.Contains(out, "Logged (estimate unavailable) Eggs: 200 kcal | P 0.0g") {
		t.Fatalf("unexpected fallback output:\n%s", out)
	}
}

func TestFoodAddFromBarcode(t *testing.T) {
	db := setupCLI(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/product/12345678.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":1,"product":{"product_name":"Yogurt Cup","serving_quantity":170,
"nutriments":{"energy-kcal_serving":120,"proteins_serving":10,"carbohydrates_serving":15,"fat_serving":2}}}`))
	}))
	defer ts.Close()
	t.Setenv("DIETWEB_BARCODE_URL", ts.URL)

	out := mustRun(t, "--db", db, "food", "add", "--barcode", "12345678", "--servings", "2")
	if !strings.Contains(out, "Logged Yogurt Cup: 240 kcal | P 20.0g | C 30.0g | F 4.0g") {
		t.Fatalf("unexpected barcode output:\n%s", out)
	}
	out = mustRun(t, "--db", db, "food", "list")
	if !strings.Contains(out, "\tbarcode") {
		t.Fatalf("expected barcode source in list:\n%s", out)
	}

	if _, err := runCLI(t, "--db", db, "food", "add", "--barcode", "87654321"); err == nil {
		t.Fatalf("expected unknown barcode to fail")
	}
	if _, err := runCLI(t, "--db", db, "food", "add", "--barcode", "12345678", "--describe", "yogurt"); err == nil {
		t.Fatalf("expected --barcode with --describe to fail")
	}
}

func TestRolloverArchivesPreviousDay(t *testing.T) {
	db := setupCLI(t)
	mustRun(t, "--db", db, "food", "add", "Pizza", "--calories", "800")

	next := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)
	now = func() time.Time { return next }

	out := mustRun(t, "--db", db, "rollover")
	if !strings.Contains(out, "Closed 2026-03-10 (800 kcal), now 2026-03-11") {
		t.Fatalf("unexpected rollover output:\n%s", out)
	}
	out = mustRun(t, "--db", db, "rollover")
	if !strings.Contains(out, "Ledger is current (2026-03-11)") {
		t.Fatalf("expected second rollover to be a no-op:\n%s", out)
	}

	out = mustRun(t, "--db", db, "history", "--days", "7")
	if !strings.Contains(out, "2026-03-10\t800") {
		t.Fatalf("expected archived day in history:\n%s", out)
	}
}

func TestUsersHaveSeparateLedgers(t *testing.T) {
	db := setupCLI(t)
	mustRun(t, "--db", db, "--user", "alice", "food", "add", "Salad", "--calories", "250")

	out := mustRun(t, "--db", db, "--user", "bob", "today")
	if !strings.Contains(out, "No food logged today.") {
		t.Fatalf("expected empty ledger for bob:\n%s", out)
	}
	out = mustRun(t, "--db", db, "users")
	if !strings.Contains(out, "alice") || !strings.Contains(out, "bob") {
		t.Fatalf("expected both users listed:\n%s", out)
	}
}

func TestExportImport(t *testing.T) {
	db := setupCLI(t)
	dir := t.TempDir()
	setProfile(t, db)
	mustRun(t, "--db", db, "food", "add", "Rice", "--calories", "200", "--carbs", "45")

	exportPath := filepath.Join(dir, "export.json")
	mustRun(t, "--db", db, "export", "--format", "json", "--out", exportPath)
	mustRun(t, "--db", db, "export", "--format", "csv", "--out", filepath.Join(dir, "entries.csv"))
	csvBytes, err := os.ReadFile(filepath.Join(dir, "entries.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.Contains(string(csvBytes), "Rice") {
		t.Fatalf("expected entry in csv:\n%s", csvBytes)
	}

	out := mustRun(t, "--db", db, "--user", "bob", "import", "--in", exportPath, "--dry-run")
	if !strings.Contains(out, "Dry run: entries=1") {
		t.Fatalf("unexpected dry run output:\n%s", out)
	}
	out = mustRun(t, "--db", db, "--user", "bob", "today")
	if !strings.Contains(out, "No food logged today.") {
		t.Fatalf("dry run must not change the ledger:\n%s", out)
	}

	out = mustRun(t, "--db", db, "--user", "bob", "import", "--in", exportPath)
	if !strings.Contains(out, "Imported entries=1") {
		t.Fatalf("unexpected import output:\n%s", out)
	}
	out = mustRun(t, "--db", db, "--user", "bob", "today")
	if !strings.Contains(out, "Eaten: 200 / 2099 kcal") {
		t.Fatalf("expected imported entry and profile:\n%s", out)
	}

	out = mustRun(t, "--db", db, "--user", "bob", "import", "--in", exportPath)
	if !strings.Contains(out, "entries=0") || !strings.Contains(out, "skipped=1") {
		t.Fatalf("expected identical entry to be skipped:\n%s", out)
	}
}

func TestDoctorReportsHealthyLedger(t *testing.T) {
	db := setupCLI(t)
	mustRun(t, "--db", db, "food", "add", "Toast", "--calories", "150")

	out := mustRun(t, "--db", db, "doctor")
	if !strings.Contains(out, "Ledger valid: true") {
		t.Fatalf("unexpected doctor output:\n%s", out)
	}
}

func TestConfigCommands(t *testing.T) {
	db := setupCLI(t)

	mustRun(t, "--db", db, "config", "set", "keep_on_truncate", "3")
	out := mustRun(t, "--db", db, "config", "get", "keep_on_truncate")
	if strings.TrimSpace(out) != "3" {
		t.Fatalf("unexpected config value: %q", out)
	}
	out = mustRun(t, "--db", db, "config", "show")
	if !strings.Contains(out, "keep_on_truncate = 3") {
		t.Fatalf("expected stored setting in effective config:\n%s", out)
	}
	if _, err := runCLI(t, "--db", db, "config", "set", "keep_on_truncate", "zero"); err == nil {
		t.Fatalf("expected invalid value to fail")
	}
	mustRun(t, "--db", db, "config", "unset", "keep_on_truncate")
	if _, err := runCLI(t, "--db", db, "config", "get", "keep_on_truncate"); err == nil {
		t.Fatalf("expected unset key to be missing")
	}
}

func TestBackupCreateAndList(t *testing.T) {
	db := setupCLI(t)
	mustRun(t, "--db", db, "init")

	out := mustRun(t, "--db", db, "backup", "create")
	if !strings.Contains(out, "Created backup:") {
		t.Fatalf("unexpected backup output:\n%s", out)
	}
	out = mustRun(t, "--db", db, "backup", "list")
	if !strings.Contains(out, "dietweb-20260310-120000.db") {
		t.Fatalf("expected backup in list:\n%s", out)
	}
}
