package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"famdigest/internal/config"
	"famdigest/internal/pipeline"
)

const classPage = `<html><body><h2>Matematik</h2>
<p>Prov v.6 om bråk och decimaltal</p>
<p>Läxa v.12 kapitel 9</p>
</body></html>`

const aliceICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//famdigest//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:dentist\r\nSUMMARY:Tandläkare\r\nDTSTART:20260204T140000Z\r\nDTEND:20260204T150000Z\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// writeConfig points a config at a local test site and returns its path.
func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	for _, k := range []string{"FAMDIGEST_WEBHOOK_URL", "DISCORD_WEBHOOK_URL", "FAMDIGEST_TIMEZONE", "FAMDIGEST_SNAPSHOT_DIR", "FAMDIGEST_USE_LLM"} {
		t.Setenv(k, "")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/5a":
			io.WriteString(w, classPage)
		case "/alice.ics":
			io.WriteString(w, aliceICS)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.SnapshotDir = filepath.Join(dir, "snapshot")
	cfg.MetricsTextfile = filepath.Join(dir, "famdigest.prom")
	cfg.People = []config.PersonConfig{{Name: "Alice", Class: "5A", SchoolURL: srv.URL + "/5a"}}
	cfg.Calendars = []config.CalendarConfig{{Names: []string{"Alice"}, URL: srv.URL + "/alice.ics"}}

	path := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path, cfg
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPreviewWeek(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, path, "preview-week", "--week", "6", "--year", "2026")
	if err != nil {
		t.Fatalf("preview-week: %v", err)
	}
	if out != "2026-W06: 2026-02-02 – 2026-02-08 (UTC)\n" {
		t.Errorf("out = %q", out)
	}

	if _, err := execute(t, path, "preview-week", "--week", "54", "--year", "2026"); err == nil {
		t.Error("week 54 accepted")
	}
	if _, err := execute(t, path, "preview-week", "--year", "2026"); err == nil {
		t.Error("--year without --week accepted")
	}
}

func TestRunDryRunPrintsDigest(t *testing.T) {
	path, cfg := writeConfig(t)

	out, err := execute(t, path, "run", "--dry-run", "--week", "6", "--year", "2026")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"Vecka 6", "Alice (5A)", "Prov v.6 om bråk och decimaltal", "Tandläkare"} {
		if !strings.Contains(out, want) {
			t.Errorf("digest missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "v.12") {
		t.Errorf("other week leaked into digest:\n%s", out)
	}

	prom, err := os.ReadFile(cfg.MetricsTextfile)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	if !strings.Contains(string(prom), `famdigest_runs_total{mode="full",outcome="dry-run"} 1`) {
		t.Errorf("metrics textfile:\n%s", prom)
	}
}

func TestRunWithoutWebhookFails(t *testing.T) {
	path, _ := writeConfig(t)
	if _, err := execute(t, path, "run"); !errors.Is(err, config.ErrMissingWebhook) {
		t.Errorf("err = %v, want ErrMissingWebhook", err)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	path, _ := writeConfig(t)
	if _, err := execute(t, path, "run", "--mode", "weekly", "--dry-run"); !errors.Is(err, pipeline.ErrInvalidMode) {
		t.Errorf("err = %v, want ErrInvalidMode", err)
	}
}

func TestRunToFileThenCheckFindsNoChanges(t *testing.T) {
	path, _ := writeConfig(t)
	dest := filepath.Join(t.TempDir(), "out", "digest.md")

	if _, err := execute(t, path, "run", "-o", dest, "--week", "6", "--year", "2026"); err != nil {
		t.Fatalf("run -o: %v", err)
	}
	body, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("digest not written: %v", err)
	}
	if !strings.Contains(string(body), "Tandläkare") {
		t.Errorf("digest file:\n%s", body)
	}

	out, err := execute(t, path, "run", "--mode", "check-updates", "--dry-run", "--week", "6", "--year", "2026")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if out != "2026-W06: no changes\n" {
		t.Errorf("check out = %q", out)
	}
}
