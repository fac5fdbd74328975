// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/poiesic/medrag"
	"github.com/poiesic/medrag/ai/openai"
	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/config"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/index"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/retrieval"
	"github.com/poiesic/medrag/server"
	"github.com/poiesic/medrag/watcher"
	"github.com/urfave/cli/v2"
)

// newProvider builds the model provider. Tests replace it with a mock.
var newProvider = openai.NewProvider

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	folderFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:    "folder",
			Aliases: []string{"f"},
			Usage:   "Folder of structured JSON notes (default: watch.folder from config)",
		}
	}
	topKFlag := func() cli.Flag {
		return &cli.IntFlag{
			Name:    "top-k",
			Aliases: []string{"k"},
			Usage:   "Number of records to retrieve",
		}
	}

	return &cli.App{
		Name:  "medrag",
		Usage: "Question answering over digitized medical notes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to .env file with model credentials",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides store.path)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadEnv(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Index every note in a folder",
				Action: indexCommand,
				Flags:  []cli.Flag{folderFlag()},
			},
			{
				Name:   "reindex",
				Usage:  "Clear the index and rebuild it from a folder",
				Action: reindexCommand,
				Flags:  []cli.Flag{folderFlag()},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute every vector from stored notes with the configured embedding model",
				Action: reembedCommand,
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the indexed notes",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "class",
						Usage: "Query class (diagnosis, frequency, qa); classified from the question when empty",
					},
					&cli.StringFlag{
						Name:  "diagnosis",
						Usage: "Diagnosis to look up instead of extracting it from the question",
					},
					topKFlag(),
					&cli.Uint64Flag{
						Name:  "min-generation",
						Usage: "Wait until the index reaches this generation",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the answer as JSON",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Rank notes by similarity to a query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					topKFlag(),
					&cli.StringFlag{Name: "patient", Usage: "Keep notes whose patient name contains this"},
					&cli.StringFlag{Name: "doctor", Usage: "Keep notes whose doctor contains this"},
					&cli.StringFlag{Name: "diagnosis", Usage: "Keep notes with this diagnosis"},
				},
			},
			{
				Name:      "summarize",
				Usage:     "Print the four-field summary of structured notes",
				ArgsUsage: "<file.json>...",
				Action:    summarizeCommand,
			},
			{
				Name:   "status",
				Usage:  "Show index generation, size and dimension",
				Action: statusCommand,
			},
			{
				Name:      "delete",
				Usage:     "Remove notes from the index",
				ArgsUsage: "<id>...",
				Action:    deleteCommand,
			},
			{
				Name:   "watch",
				Usage:  "Index notes as they appear in a folder",
				Action: watchCommand,
				Flags: []cli.Flag{
					folderFlag(),
					&cli.BoolFlag{
						Name:  "scan",
						Usage: "Index the notes already in the folder first",
						Value: true,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP query API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (default: server.addr from config)",
					},
					&cli.StringFlag{
						Name:  "watch",
						Usage: "Also watch this folder and index new notes",
					},
				},
			},
		},
	}
}

// loadEnv loads path into the environment. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.Store.Path = db
		cfg.Store.InMemory = false
	}
	return cfg, nil
}

func openSystem(c *cli.Context, opts ...medrag.Option) (*medrag.System, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg.AIConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}
	opts = append([]medrag.Option{medrag.WithConfig(cfg), medrag.WithProvider(provider)}, opts...)
	sys, err := medrag.Open(opts...)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return sys, nil
}

func folderOf(c *cli.Context, sys *medrag.System) string {
	if folder := c.String("folder"); folder != "" {
		return folder
	}
	return sys.Config().Watch.Folder
}

func indexCommand(c *cli.Context) error {
	sys, err := openSystem(c, medrag.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer sys.Close()

	folder := folderOf(c, sys)
	fmt.Fprintf(c.App.ErrWriter, "Indexing notes from %s\n", folder)
	report, failures, err := sys.IndexFolder(c.Context, folder)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	return printReport(c.App.Writer, report, failures)
}

func reindexCommand(c *cli.Context) error {
	sys, err := openSystem(c, medrag.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer sys.Close()

	folder := folderOf(c, sys)
	fmt.Fprintf(c.App.ErrWriter, "Rebuilding index from %s\n", folder)
	report, failures, err := sys.Reindex(c.Context, folder)
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	return printReport(c.App.Writer, report, failures)
}

func reembedCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", sys.Config().Model.EmbeddingModel)
	result, err := sys.Reembed(c.Context, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Reembedded %d notes, dimension %d, generation %d\n", result.Reembedded, result.Dimension, result.Generation)
	return nil
}

func printReport(w io.Writer, report *index.BatchReport, loadFailures []error) error {
	fmt.Fprintf(w, "Indexed %d notes, %d failed, generation %d\n", report.Indexed, report.Failed+len(loadFailures), report.Generation)
	red := color.New(color.FgRed).SprintFunc()
	for _, err := range loadFailures {
		fmt.Fprintf(w, "  %s %v\n", red("skipped"), err)
	}
	for _, o := range report.Failures() {
		fmt.Fprintf(w, "  %s %s: %v\n", red("failed"), o.SourceID, o.Err)
	}
	if report.Failed > 0 && report.Indexed == 0 {
		return errors.New("no notes were indexed")
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" && c.String("diagnosis") == "" {
		return errors.New("a question is required")
	}
	class, err := core.ParseQueryClass(c.String("class"))
	if err != nil {
		return err
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	a, err := sys.Ask(c.Context, retrieval.Query{
		Text:          question,
		Class:         class,
		TopK:          c.Int("top-k"),
		Diagnosis:     c.String("diagnosis"),
		MinGeneration: core.Generation(c.Uint64("min-generation")),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, a)
	}
	printAnswer(c.App.Writer, a)
	return nil
}

func printAnswer(w io.Writer, a *answer.Answer) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	if a.NoAnswer {
		fmt.Fprintf(w, "%s %s\n", yellow("No answer:"), a.Reason)
	} else if a.Text != nil {
		fmt.Fprintf(w, "%s %s\n", boldGreen("Answer:"), *a.Text)
	}

	if len(a.Patients) > 0 {
		fmt.Fprintln(w, boldCyan("Patients:"))
		for _, p := range a.Patients {
			fmt.Fprintf(w, "  %s %s\n", p.Patient, faint("("+p.RecordID+")"))
		}
	}
	if a.TreatmentStats != nil {
		fmt.Fprintf(w, "%s %s x%d\n", boldCyan("Most frequent:"), a.TreatmentStats.Treatment, a.TreatmentStats.Count)
	}
	if len(a.UsedDocuments) > 0 {
		fmt.Fprintf(w, "%s %s\n", boldCyan("Sources:"), strings.Join(a.UsedDocuments, ", "))
	}
	fmt.Fprintln(w, faint(fmt.Sprintf("type=%s confidence=%s generation=%d", a.Type, a.Confidence, a.Generation)))
}

func searchCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a query is required")
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	result, err := sys.Search(c.Context, query, c.Int("top-k"), retrieval.SearchFilter{
		Patient:   c.String("patient"),
		Doctor:    c.String("doctor"),
		Diagnosis: c.String("diagnosis"),
	})
	if err != nil {
		return err
	}

	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	for i, cand := range result.Candidates {
		meta := cand.Entry.Metadata
		fmt.Fprintf(c.App.Writer, "%d. %s %.4f  %s  [%s]\n", i+1, boldCyan(cand.RecordID()), cand.Score,
			meta.Patient, strings.Join(meta.Diagnoses, "; "))
	}
	fmt.Fprintf(c.App.Writer, "%d results at generation %d\n", len(result.Candidates), result.Generation)
	return nil
}

func summarizeCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one note file is required")
	}
	for _, path := range c.Args().Slice() {
		doc, err := normalize.LoadFile(path)
		if err != nil {
			return err
		}
		if err := writeJSON(c.App.Writer, normalize.SummarizeDocument(doc)); err != nil {
			return err
		}
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	st, err := sys.Status(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Generation: %d\nEntries:    %d\nDimension:  %d\n", st.Generation, st.Count, st.Dimension)
	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one note id is required")
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	gen, err := sys.Delete(c.Context, c.Args().Slice()...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d notes, generation %d\n", c.NArg(), gen)
	return nil
}

func watchCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := sys.Watcher(c.String("folder"), watcher.WithInitialScan(c.Bool("scan")))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

func serveCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if folder := c.String("watch"); folder != "" {
		w, err := sys.Watcher(folder, watcher.WithInitialScan(true))
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("watcher stopped", "err", err)
			}
		}()
	}

	addr := c.String("addr")
	if addr == "" {
		addr = sys.Config().Server.Addr
	}
	return server.New(sys, server.WithAddr(addr)).ListenAndServe(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
