// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server exposes the simulator over HTTP. Every request gets its
// own machine, so requests run in parallel without sharing state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/go8086/grade"
	"github.com/beevik/go8086/sim"
	"golang.org/x/sync/errgroup"
)

// Request limits.
const (
	MaxBodySize   = 1 << 20
	MaxStepsLimit = 1000000
)

// Options configure a Server.
type Options struct {
	MaxSteps    int           // default step ceiling for runs
	Timeout     time.Duration // wall-clock ceiling for each run
	AllowOrigin string        // value of Access-Control-Allow-Origin, if set
	Log         io.Writer     // receives one line per request; may be nil
}

// A Server handles the simulator's HTTP API.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/execute/stream", s.handleStream)
	s.mux.HandleFunc("POST /api/grade", s.handleGrade)
	s.mux.HandleFunc("OPTIONS /api/", s.handlePreflight)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	if s.opts.AllowOrigin != "" {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.AllowOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
	s.mux.ServeHTTP(sw, r)
	fmt.Fprintf(s.opts.Log, "%s %s %d %v\n", r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Millisecond))
}

// ListenAndServe serves HTTP on addr until the context is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	return g.Wait()
}

// A statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type executeRequest struct {
	Code     string `json:"code"`
	MaxSteps int    `json:"maxSteps,omitempty"`
}

type gradeRequest struct {
	Code      string           `json:"code"`
	TestCases []grade.TestCase `json:"testCases"`
	MaxSteps  int              `json:"maxSteps,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !readRequest(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	}
	writeJSON(w, http.StatusOK, sim.Execute(r.Context(), req.Code, s.simOptions(req.MaxSteps)))
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !readRequest(w, r, &req) {
		return
	}
	switch {
	case req.Code == "":
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	case len(req.TestCases) == 0:
		writeError(w, http.StatusBadRequest, "Test cases are required")
		return
	}

	report, err := grade.Grade(r.Context(), req.Code, req.TestCases, s.simOptions(req.MaxSteps))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// An sseEvent is an event already encoded for the wire.
type sseEvent struct {
	name string
	data []byte
}

// Stream a run as server-sent events. The simulation produces events on
// one goroutine and another writes and flushes them. A failed write
// cancels the run.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !readRequest(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan sseEvent, 64)
	g, ctx := errgroup.WithContext(r.Context())

	send := func(name string, data any) error {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		select {
		case events <- sseEvent{name: name, data: b}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.Go(func() error {
		defer close(events)
		_, err := sim.Stream(ctx, req.Code, s.simOptions(req.MaxSteps), func(ev sim.Event) error {
			return send(ev.Name, ev.Data)
		})
		if err != nil && ctx.Err() == nil {
			return send(sim.EventError, sim.ErrorEvent{Message: err.Error()})
		}
		return err
	})

	g.Go(func() error {
		rc := http.NewResponseController(w)
		for ev := range events {
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(s.opts.Log, "stream aborted: %v\n", err)
	}
}

func (s *Server) simOptions(maxSteps int) sim.Options {
	if maxSteps <= 0 {
		maxSteps = s.opts.MaxSteps
	}
	if maxSteps > MaxStepsLimit {
		maxSteps = MaxStepsLimit
	}
	return sim.Options{MaxSteps: maxSteps, Timeout: s.opts.Timeout}
}

// Decode a JSON request body of at most MaxBodySize bytes. On failure an
// error response is written and false is returned.
func readRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "Code is required")
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
