package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogBuffer_JoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	fmt.Fprint(b, "first li")
	fmt.Fprint(b, "ne\nsecond\n\nthi")

	lines, dropped := b.Snapshot(10, "")
	if dropped != 0 {
		t.Fatalf("dropped=%d", dropped)
	}
	if strings.Join(lines, "|") != "first line|second" {
		t.Fatalf("lines=%q", lines)
	}

	fmt.Fprint(b, "rd\r\n")
	lines, _ = b.Snapshot(10, "")
	if lines[len(lines)-1] != "third" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBuffer_DropsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}
	lines, dropped := b.Snapshot(10, "")
	if dropped != 2 {
		t.Fatalf("dropped=%d want 2", dropped)
	}
	if strings.Join(lines, "|") != "line 2|line 3|line 4" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBuffer_TailAndMatch(t *testing.T) {
	b := NewLogBuffer(100)
	for i := 0; i < 10; i++ {
		tag := "pipeline"
		if i%2 == 1 {
			tag = "ws"
		}
		fmt.Fprintf(b, "%s event=%d\n", tag, i)
	}

	lines, _ := b.Snapshot(2, "ws")
	if strings.Join(lines, "|") != "ws event=7|ws event=9" {
		t.Fatalf("lines=%q", lines)
	}
	lines, _ = b.Snapshot(3, "")
	if len(lines) != 3 || lines[2] != "ws event=9" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogBuffer_Handler(t *testing.T) {
	b := NewLogBuffer(100)
	fmt.Fprintln(b, "hello world")
	h := b.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?tail=5", nil))
	var resp LogsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "hello world" {
		t.Fatalf("lines=%q", resp.Lines)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?format=text", nil))
	if rec.Body.String() != "hello world\n" {
		t.Fatalf("text body=%q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?tail=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("tail=0 code=%d", rec.Code)
	}
}
