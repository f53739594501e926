// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beevik/go8086/grade"
	"github.com/beevik/go8086/sim"
)

func request(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response: %v\n%s", err, w.Body.String())
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status incorrect. exp: %d, got: %d (%s)", status, w.Code, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	expectStatus(t, w, status)
	var e errorResponse
	decode(t, w, &e)
	if !strings.HasPrefix(e.Error, msg) {
		t.Errorf("error incorrect. exp: %s, got: %s", msg, e.Error)
	}
}

func TestHealth(t *testing.T) {
	var log bytes.Buffer
	s := New(Options{Log: &log})
	w := request(t, s, "GET", "/api/health", "")
	expectStatus(t, w, http.StatusOK)

	var body map[string]string
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("health incorrect. got: %v", body)
	}
	if !strings.HasPrefix(log.String(), "GET /api/health 200 ") {
		t.Errorf("request log incorrect. got: %q", log.String())
	}
}

func TestExecute(t *testing.T) {
	s := New(Options{})
	w := request(t, s, "POST", "/api/execute", `{"code": "MOV AL,20H\nADD AL,30H\nMOV AH,4CH\nINT 21H"}`)
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type incorrect. got: %s", ct)
	}

	var r sim.Result
	decode(t, w, &r)
	if r.Execution == nil || r.Execution.Status != sim.StatusSuccess || r.Execution.FinalState.Registers.AX != "4C50" {
		t.Errorf("result incorrect. got: %s", w.Body.String())
	}
}

func TestExecuteMaxSteps(t *testing.T) {
	s := New(Options{})
	w := request(t, s, "POST", "/api/execute", `{"code": "L: JMP L", "maxSteps": 25}`)
	expectStatus(t, w, http.StatusOK)

	var r sim.Result
	decode(t, w, &r)
	if r.Execution == nil || r.Execution.Error == nil {
		t.Fatalf("expected a runtime error. got: %s", w.Body.String())
	}
	if len(r.Execution.Steps) != 25 || r.Execution.Error.Kind != "StepLimitExceeded" {
		t.Errorf("step ceiling not applied. got: %s", w.Body.String())
	}
}

func TestBadRequests(t *testing.T) {
	s := New(Options{})
	expectError(t, request(t, s, "POST", "/api/execute", `{}`), http.StatusBadRequest, "Code is required")
	expectError(t, request(t, s, "POST", "/api/execute", ``), http.StatusBadRequest, "Code is required")
	expectError(t, request(t, s, "POST", "/api/execute", `{"code": 5}`), http.StatusBadRequest, "Invalid JSON")
	expectError(t, request(t, s, "POST", "/api/execute/stream", `{"code": ""}`), http.StatusBadRequest, "Code is required")
	expectError(t, request(t, s, "POST", "/api/grade", `{"code": "NOP"}`), http.StatusBadRequest, "Test cases are required")

	big := `{"code": "` + strings.Repeat("A", MaxBodySize) + `"}`
	expectError(t, request(t, s, "POST", "/api/execute", big), http.StatusRequestEntityTooLarge, "Request body too large")

	expectStatus(t, request(t, s, "GET", "/api/execute", ""), http.StatusMethodNotAllowed)
	expectStatus(t, request(t, s, "GET", "/unknown", ""), http.StatusNotFound)
}

func TestCORS(t *testing.T) {
	s := New(Options{AllowOrigin: "*"})
	w := request(t, s, "OPTIONS", "/api/execute", "")
	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin incorrect. got: %q", got)
	}
}

// Read server-sent events from a response body.
func readEvents(t *testing.T, body string) (names []string, data []string) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(names) != len(data) {
		t.Fatalf("malformed event stream:\n%s", body)
	}
	return names, data
}

func TestStream(t *testing.T) {
	s := New(Options{})
	w := request(t, s, "POST", "/api/execute/stream", `{"code": "MOV AX,1\nMOV BX,2\nHLT"}`)
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type incorrect. got: %s", ct)
	}

	names, data := readEvents(t, w.Body.String())
	exp := []string{"status", "status", "symbols", "status", "step", "step", "step", "complete"}
	if strings.Join(names, ",") != strings.Join(exp, ",") {
		t.Fatalf("events incorrect.\nexp: %v\ngot: %v", exp, names)
	}

	var status sim.StatusEvent
	if err := json.Unmarshal([]byte(data[0]), &status); err != nil {
		t.Fatal(err)
	}
	if status.Stage != sim.StageParsing || status.Progress != 10 {
		t.Errorf("status event incorrect. got: %+v", status)
	}

	for i := 4; i < 7; i++ {
		var step struct {
			Step       sim.Step `json:"step"`
			StepNumber int      `json:"stepNumber"`
		}
		if err := json.Unmarshal([]byte(data[i]), &step); err != nil {
			t.Fatal(err)
		}
		if step.StepNumber != i-3 || step.Step.Line != i-3 {
			t.Errorf("step event %d incorrect. got: %+v", i-3, step)
		}
	}

	var done sim.CompleteEvent
	if err := json.Unmarshal([]byte(data[7]), &done); err != nil {
		t.Fatal(err)
	}
	if done.Progress != 100 || done.FinalState.Registers.BX != "0002" || done.TotalSteps != 3 {
		t.Errorf("complete event incorrect. got: %+v", done)
	}
}

func TestStreamCompilationError(t *testing.T) {
	s := New(Options{})
	w := request(t, s, "POST", "/api/execute/stream", `{"code": "MOV AX,NOPE"}`)
	names, data := readEvents(t, w.Body.String())
	if len(names) == 0 || names[len(names)-1] != "compilation-error" {
		t.Fatalf("events incorrect. got: %v", names)
	}
	var ce sim.CompilationErrorEvent
	if err := json.Unmarshal([]byte(data[len(data)-1]), &ce); err != nil {
		t.Fatal(err)
	}
	if len(ce.Errors) != 1 || ce.Errors[0].Line != 1 {
		t.Errorf("compilation errors incorrect. got: %+v", ce.Errors)
	}
}

func TestGrade(t *testing.T) {
	s := New(Options{})
	body := `{
		"code": "MOV AX,5\nMOV BX,AX\nHLT",
		"testCases": [
			{"expectedRegisters": {"AX": "5", "BX": "0005H"}, "points": 3},
			{"expectedRegisters": {"BX": "6"}, "points": 2}
		]
	}`
	w := request(t, s, "POST", "/api/grade", body)
	expectStatus(t, w, http.StatusOK)

	var r grade.Report
	decode(t, w, &r)
	if r.TotalScore != 3 || r.MaxScore != 5 || len(r.TestResults) != 2 {
		t.Fatalf("report incorrect. got: %+v", r)
	}
	if !r.TestResults[0].Passed || r.TestResults[1].Passed {
		t.Errorf("results incorrect. got: %+v", r.TestResults)
	}
}
