package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const (
	noteA = `{"patient": "A", "diagnosis": ["Viral Fever"], "prescriptions": ["Paracetamol 650mg"], "cleaned_text": "Fever for two days."}`
	noteB = `{"patient": "B", "diagnosis": "viral fever", "prescriptions": [{"drug": "Paracetamol", "dose": "650 mg"}], "cleaned_text": "High fever."}`
)

type harness struct {
	dir    string
	db     string
	notes  string
	stdout *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	orig := newProvider
	newProvider = func(*ai.Config) (ai.AIProvider, error) { return mock.NewMockProvider(), nil }
	t.Cleanup(func() { newProvider = orig })

	dir := t.TempDir()
	h := &harness{
		dir:    dir,
		db:     filepath.Join(dir, "db"),
		notes:  filepath.Join(dir, "notes"),
		stdout: &bytes.Buffer{},
	}
	require.NoError(t, os.MkdirAll(h.notes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.notes, "a_note.json"), []byte(noteA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.notes, "b_note.json"), []byte(noteB), 0o644))
	return h
}

func (h *harness) run(args ...string) error {
	h.stdout.Reset()
	app := newApp()
	app.Writer = h.stdout
	app.ErrWriter = &bytes.Buffer{}
	base := []string{"medrag", "--config", filepath.Join(h.dir, "medrag.yaml"), "--env-file", "", "--db", h.db}
	return app.Run(append(base, args...))
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("index", "--folder", h.notes))
	assert.Contains(t, h.stdout.String(), "Indexed 2 notes, 0 failed")

	require.NoError(t, h.run("status"))
	assert.Contains(t, h.stdout.String(), "Entries:    2")

	require.NoError(t, h.run("ask", "--json", "Which patients had viral fever?"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
	assert.Equal(t, "A, B", out["answer"])

	require.NoError(t, h.run("ask", "What", "treatment", "was", "prescribed", "most", "often?"))
	assert.Contains(t, h.stdout.String(), "paracetamol 650mg x2")

	require.NoError(t, h.run("search", "--patient", "a", "fever"))
	assert.Contains(t, h.stdout.String(), "a_note")
	assert.NotContains(t, h.stdout.String(), "b_note")

	require.NoError(t, h.run("delete", "a_note"))
	assert.Contains(t, h.stdout.String(), "Deleted 1 notes")

	require.NoError(t, h.run("reembed"))
	assert.Contains(t, h.stdout.String(), "Reembedded 1 notes")

	require.NoError(t, h.run("reindex", "--folder", h.notes))
	assert.Contains(t, h.stdout.String(), "Indexed 2 notes")
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t)

	err := h.run("ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question is required")

	err = h.run("ask", "--class", "bogus", "hello")
	require.Error(t, err)

	err = h.run("delete")
	require.Error(t, err)

	err = h.run("search")
	require.Error(t, err)

	err = h.run("index", "--folder", filepath.Join(h.dir, "missing"))
	require.Error(t, err)
}

func TestSummarizeCommand(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("summarize", filepath.Join(h.notes, "b_note.json")))
	assert.JSONEq(t, `{
		"Patient": "B",
		"Diagnosis": "viral fever",
		"Treatment": "Paracetamol 650 mg",
		"Follow-up": null
	}`, h.stdout.String())

	err := h.run("summarize")
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, loadEnv(""))
	assert.NoError(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEDRAG_TEST_KEY=secret\n"), 0o644))
	t.Setenv("MEDRAG_TEST_KEY", "")
	os.Unsetenv("MEDRAG_TEST_KEY")
	require.NoError(t, loadEnv(path))
	assert.Equal(t, "secret", os.Getenv("MEDRAG_TEST_KEY"))
}

func TestSetupLogger(t *testing.T) {
	newLoggerApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(*cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		for _, tc := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
			t.Run(tc, func(t *testing.T) {
				require.NoError(t, newLoggerApp(noop).Run([]string{"test", "--log-level", tc}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newLoggerApp(noop).Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		err := newLoggerApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		}).Run([]string{"test", "-l", "debug"})
		require.NoError(t, err)
	})
}

func TestNewApp(t *testing.T) {
	app := newApp()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, "index reindex reembed ask search summarize status delete watch serve", strings.Join(names, " "))
}
