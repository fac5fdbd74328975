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

// Package server exposes a System over HTTP.
//
//	POST   /ask              answer a question
//	GET    /search           raw similarity search
//	POST   /documents        index one structured note
//	DELETE /documents/{id}   remove a note
//	GET    /status           index generation, size and dimension
//	GET    /                 health
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/poiesic/medrag"
	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/normalize"
	"github.com/poiesic/medrag/retrieval"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Service is the part of medrag.System the server uses.
type Service interface {
	Ask(ctx context.Context, q retrieval.Query) (*answer.Answer, error)
	Search(ctx context.Context, text string, k int, filter retrieval.SearchFilter) (*retrieval.Result, error)
	IndexDocument(ctx context.Context, raw *normalize.RawDocument) (core.Generation, error)
	Delete(ctx context.Context, recordIDs ...string) (core.Generation, error)
	Status(ctx context.Context) (*medrag.Status, error)
}

var _ Service = (*medrag.System)(nil)

type Server struct {
	svc    Service
	addr   string
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is 127.0.0.1:8080.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "server")
		}
	}
}

func New(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		addr:   "127.0.0.1:8080",
		logger: slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("POST /documents", s.handleIndex)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDelete)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /{$}", s.handleHome)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

type askRequest struct {
	Question      string          `json:"question"`
	Class         string          `json:"class,omitempty"`
	TopK          int             `json:"top_k,omitempty"`
	Diagnosis     string          `json:"diagnosis,omitempty"`
	MinGeneration core.Generation `json:"min_generation,omitempty"`
}

type searchHit struct {
	ID         string         `json:"id"`
	Similarity float32        `json:"similarity"`
	Text       string         `json:"text"`
	Metadata   searchMetadata `json:"metadata"`
}

type searchMetadata struct {
	Patient    string   `json:"patient"`
	Doctor     string   `json:"doctor"`
	Diagnosis  []string `json:"diagnosis"`
	Treatments []string `json:"treatments"`
}

type searchResponse struct {
	Query      string          `json:"query"`
	Count      int             `json:"count"`
	Generation core.Generation `json:"generation"`
	Results    []searchHit     `json:"results"`
}

type writeResponse struct {
	ID         string          `json:"id,omitempty"`
	Generation core.Generation `json:"generation"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	class, err := core.ParseQueryClass(req.Class)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TopK < 0 || req.TopK > retrieval.MaxTopK {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("top_k must be between 1 and %d", retrieval.MaxTopK))
		return
	}

	a, err := s.svc.Ask(r.Context(), retrieval.Query{
		Text:          req.Question,
		Class:         class,
		TopK:          req.TopK,
		Diagnosis:     req.Diagnosis,
		MinGeneration: req.MinGeneration,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")
	k := retrieval.DefaultTopK
	if raw := params.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > retrieval.MaxTopK {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("top_k must be between 1 and %d", retrieval.MaxTopK))
			return
		}
		k = n
	}

	result, err := s.svc.Search(r.Context(), q, k, retrieval.SearchFilter{
		Patient:   params.Get("patient"),
		Doctor:    params.Get("doctor"),
		Diagnosis: params.Get("diagnosis"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	hits := make([]searchHit, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		meta := c.Entry.Metadata
		hits = append(hits, searchHit{
			ID:         c.RecordID(),
			Similarity: c.Score,
			Text:       meta.Narrative,
			Metadata: searchMetadata{
				Patient:    meta.Patient,
				Doctor:     meta.Doctor,
				Diagnosis:  nonNil(meta.Diagnoses),
				Treatments: nonNil(meta.Treatments),
			},
		})
	}
	s.writeJSON(w, http.StatusOK, searchResponse{
		Query:      q,
		Count:      len(hits),
		Generation: result.Generation,
		Results:    hits,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	doc, err := normalize.ParseDocument(data)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", core.ErrNormalization, err))
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		doc.ID = id
	}

	gen, err := s.svc.IndexDocument(r.Context(), doc)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, writeResponse{ID: doc.ID, Generation: gen})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	gen, err := s.svc.Delete(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, writeResponse{ID: id, Generation: gen})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "medrag API running",
		"endpoints": []string{"/ask", "/search", "/documents", "/status"},
	})
}

// readBody reads the request body, answering 413 when it exceeds
// maxBodyBytes. It reports false once an error response was written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("reading request body: %w", err))
		return nil, false
	}
	return data, true
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrEmptyQuery),
		errors.Is(err, core.ErrInvalidQueryClass),
		errors.Is(err, core.ErrNormalization),
		errors.Is(err, core.ErrEmptyRecordID):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrIndexerHalted), errors.Is(err, core.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, core.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeError(w, code, err)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error encoding response", "err", err)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
