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

package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/retrieval"
)

const defaultGenerateTimeout = 60 * time.Second

// Composer builds answers from retrieval results.
type Composer struct {
	generator      ai.Generator
	perDocChars    int
	totalChars     int
	groundingRatio float64
	timeout        time.Duration
	logger         *slog.Logger
}

// Option configures a Composer.
type Option func(*Composer) error

// WithContextLimits sets the per-document and total context window sizes.
func WithContextLimits(perDoc, total int) Option {
	return func(c *Composer) error {
		if perDoc <= 0 || total <= 0 {
			return fmt.Errorf("context limits must be positive, got %d and %d", perDoc, total)
		}
		c.perDocChars = perDoc
		c.totalChars = total
		return nil
	}
}

// WithGroundingRatio sets the share of content words that must be grounded.
func WithGroundingRatio(ratio float64) Option {
	return func(c *Composer) error {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("grounding ratio must be in [0, 1], got %v", ratio)
		}
		c.groundingRatio = ratio
		return nil
	}
}

// WithGenerateTimeout bounds each generator call. Default is 60s.
func WithGenerateTimeout(timeout time.Duration) Option {
	return func(c *Composer) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "answer")
		return nil
	}
}

// New creates a composer. generator may be nil, in which case FreeFormQA
// answers fail with core.ErrGenerationUnavailable.
func New(generator ai.Generator, opts ...Option) (*Composer, error) {
	c := &Composer{
		generator:      generator,
		perDocChars:    DefaultPerDocChars,
		totalChars:     DefaultTotalChars,
		groundingRatio: DefaultGroundingRatio,
		timeout:        defaultGenerateTimeout,
		logger:         slog.Default().With("component", "answer"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Compose answers question from result.
//
// Outcomes that mean "nothing to say" (no treatments, no generated answer, an
// ungrounded answer) are returned as NoAnswer answers, not errors. Errors are
// reserved for failures such as core.ErrGenerationUnavailable.
func (c *Composer) Compose(ctx context.Context, question string, result *retrieval.Result) (*Answer, error) {
	if result == nil {
		return nil, errors.New("retrieval result required")
	}

	switch result.Class {
	case core.DiagnosisLookup:
		return c.diagnosis(result), nil
	case core.TreatmentFrequency:
		return c.frequency(result), nil
	case core.FreeFormQA:
		return c.freeForm(ctx, question, result)
	}
	return nil, core.ErrInvalidQueryClass
}

func (c *Composer) diagnosis(result *retrieval.Result) *Answer {
	a := newAnswer(result.Class, result.Generation)
	a.Patients = CollectPatients(result.Entries())
	a.Provenance = provenanceOf(result.Candidates)
	a.UsedDocuments = recordIDs(result.Candidates)
	a.Confidence = ConfidenceHigh

	names := make([]string, 0, len(a.Patients))
	for _, p := range a.Patients {
		if p.Patient != "" && !slices.Contains(names, p.Patient) {
			names = append(names, p.Patient)
		}
	}
	if len(names) > 0 {
		text := strings.Join(names, ", ")
		a.Text = &text
	}
	return a
}

func (c *Composer) frequency(result *retrieval.Result) *Answer {
	a := newAnswer(result.Class, result.Generation)
	a.Provenance = provenanceOf(result.Candidates)
	a.UsedDocuments = recordIDs(result.Candidates)

	top, ok := MostFrequent(result.Entries())
	if !ok {
		return noAnswer(a, fmt.Errorf("%w: no prescriptions in the matching records", core.ErrNoAnswer))
	}
	a.TreatmentStats = &top
	a.Confidence = ConfidenceHigh
	text := fmt.Sprintf("%s (prescribed %d times)", top.Treatment, top.Count)
	if top.Count == 1 {
		text = fmt.Sprintf("%s (prescribed once)", top.Treatment)
	}
	a.Text = &text
	return a
}

func (c *Composer) freeForm(ctx context.Context, question string, result *retrieval.Result) (*Answer, error) {
	a := newAnswer(result.Class, result.Generation)
	if len(result.Candidates) == 0 {
		return noAnswer(a, core.ErrInsufficientContext), nil
	}
	if c.generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", core.ErrGenerationUnavailable)
	}

	window := BuildWindow(result.Candidates, c.perDocChars, c.totalChars)
	a.Provenance = provenanceOf(window.Included)
	a.UsedDocuments = window.DocumentIDs()

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.generator.Generate(genCtx, ai.GenerationRequest{
		Question:    question,
		Context:     window.Text,
		DocumentIDs: window.DocumentIDs(),
	})
	if err != nil {
		c.logger.Error("error generating answer", "err", err)
		return nil, fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)
	}
	if out == nil || out.Answer == nil || strings.TrimSpace(*out.Answer) == "" {
		return noAnswer(a, fmt.Errorf("%w: the records do not answer the question", core.ErrNoAnswer)), nil
	}

	text := strings.TrimSpace(*out.Answer)
	if ok, reason := Verify(text, window.Text, c.groundingRatio); !ok {
		c.logger.Warn("discarding ungrounded answer", "reason", reason)
		return noAnswer(a, fmt.Errorf("%w: %s", core.ErrUngrounded, reason)), nil
	}

	a.Text = &text
	a.Confidence = normalizeConfidence(out.Confidence)
	if used := citedDocuments(out.UsedDocuments, a.UsedDocuments); len(used) > 0 {
		a.UsedDocuments = used
	}
	return a, nil
}

// NoAnswer maps errors in the core.ErrNoAnswer family to a NoAnswer answer.
// Any other error is returned unchanged. The generation of an
// *retrieval.InsufficientContextError takes precedence over generation.
func NoAnswer(err error, class core.QueryClass, generation core.Generation) (*Answer, error) {
	if !errors.Is(err, core.ErrNoAnswer) {
		return nil, err
	}
	var insufficient *retrieval.InsufficientContextError
	if errors.As(err, &insufficient) {
		generation = insufficient.Generation
	}
	return noAnswer(newAnswer(class, generation), err), nil
}

func newAnswer(class core.QueryClass, generation core.Generation) *Answer {
	return &Answer{
		QueryID:       uuid.NewString(),
		Type:          class.String(),
		Class:         class,
		Patients:      []PatientRef{},
		UsedDocuments: []string{},
		Provenance:    []Provenance{},
		Generation:    generation,
	}
}

func noAnswer(a *Answer, err error) *Answer {
	a.Text = nil
	a.TreatmentStats = nil
	a.NoAnswer = true
	a.Reason = err.Error()
	a.Confidence = ConfidenceLow
	return a
}

func provenanceOf(candidates []*core.Candidate) []Provenance {
	out := make([]Provenance, 0, len(candidates))
	for _, c := range candidates {
		diagnoses := c.Entry.Metadata.Diagnoses
		if diagnoses == nil {
			diagnoses = []string{}
		}
		out = append(out, Provenance{
			RecordID:  c.RecordID(),
			Patient:   c.Entry.Metadata.Patient,
			Doctor:    c.Entry.Metadata.Doctor,
			Diagnosis: diagnoses,
			Score:     c.Score,
		})
	}
	return out
}

func recordIDs(candidates []*core.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.RecordID()
	}
	return ids
}

// citedDocuments keeps the generator's citations that were actually in the
// window, in window order.
func citedDocuments(cited, window []string) []string {
	var used []string
	for _, id := range window {
		if slices.Contains(cited, id) {
			used = append(used, id)
		}
	}
	return used
}

func normalizeConfidence(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ConfidenceLow:
		return ConfidenceLow
	case ConfidenceHigh:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}
