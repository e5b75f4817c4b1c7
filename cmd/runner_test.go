package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	tu "github.com/kcirtapfromspace/no-drake-in-the-house/internal/testing"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			data := map[string]string{"key": "value"}
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) == 0 {
			t.Error("expected at least one command to be registered")
		}

		for i, cmd := range commands {
			if cmd == nil {
				t.Errorf("command at index %d is nil", i)
			}
		}
	})
}

func TestFileResolver(t *testing.T) {
	ctx := context.Background()

	writeBlocklist := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "blocklist.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write blocklist: %v", err)
		}
		return path
	}

	t.Run("parses entries with defaults", func(t *testing.T) {
		path := writeBlocklist(t, `[
			{"artist_id": "a1", "name": "Artist One"},
			{"artist_id": "a2", "name": "Artist Two", "reason": "collaboration", "confidence": 0.8}
		]`)

		blocked, err := newFileResolver(path).BlockedArtists(ctx, "u1", "spotify")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(blocked) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(blocked))
		}

		if blocked[0].Reason != models.ReasonExactMatch {
			t.Errorf("expected default reason exact_match, got %s", blocked[0].Reason)
		}
		if blocked[0].Confidence != 1 {
			t.Errorf("expected default confidence 1, got %f", blocked[0].Confidence)
		}
		if blocked[1].Reason != models.ReasonCollaboration {
			t.Errorf("expected collaboration, got %s", blocked[1].Reason)
		}
		if blocked[1].Confidence != 0.8 {
			t.Errorf("expected confidence 0.8, got %f", blocked[1].Confidence)
		}
	})

	t.Run("rejects entries without artist_id", func(t *testing.T) {
		path := writeBlocklist(t, `[{"name": "No ID"}]`)

		_, err := newFileResolver(path).BlockedArtists(ctx, "u1", "spotify")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("rejects unknown reasons", func(t *testing.T) {
		path := writeBlocklist(t, `[{"artist_id": "a1", "reason": "vibes"}]`)

		_, err := newFileResolver(path).BlockedArtists(ctx, "u1", "spotify")
		if err == nil || !strings.Contains(err.Error(), "unknown match reason") {
			t.Errorf("expected unknown reason error, got %v", err)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		path := writeBlocklist(t, `{not json`)

		_, err := newFileResolver(path).BlockedArtists(ctx, "u1", "spotify")
		if err == nil || !strings.Contains(err.Error(), "failed to parse blocklist") {
			t.Errorf("expected parse error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := newFileResolver("/nonexistent/blocklist.json").BlockedArtists(ctx, "u1", "spotify")
		if err == nil || !strings.Contains(err.Error(), "failed to read blocklist") {
			t.Errorf("expected read error, got %v", err)
		}
	})
}

func TestCreditsRoleHeuristic(t *testing.T) {
	got := credits([]providers.Artist{
		{ID: "a1", Name: "Lead"},
		{ID: "a2", Name: "Guest"},
		{ID: "a3", Name: "Other Guest"},
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 credits, got %d", len(got))
	}
	if got[0].Role != enforcement.RolePrimary {
		t.Errorf("expected first artist to be primary, got %s", got[0].Role)
	}
	for _, credit := range got[1:] {
		if credit.Role != enforcement.RoleFeatured {
			t.Errorf("expected %s to be featured, got %s", credit.ArtistID, credit.Role)
		}
	}

	if empty := credits(nil); len(empty) != 0 {
		t.Errorf("expected empty credits, got %d", len(empty))
	}
}
