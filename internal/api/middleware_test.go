package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("mints_uuid", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get("X-Request-ID")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		id := rec.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("X-Request-ID %q is not a UUID", id)
		}
		if seen != id {
			t.Errorf("handler saw %q, response carries %q", seen, id)
		}
	})

	t.Run("keeps_caller_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "tg-update-991")
		RequestID(okHandler).ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "tg-update-991" {
			t.Errorf("X-Request-ID = %q", got)
		}
	})
}

// accessLines runs h behind RequestID and Logger and returns the decoded
// JSON log lines.
func accessLines(t *testing.T, h http.Handler, req *http.Request) []map[string]any {
	t.Helper()
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	RequestID(Logger(log)(h)).ServeHTTP(httptest.NewRecorder(), req)

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("log line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLoggerFields(t *testing.T) {
	t.Run("access_line_carries_request_and_user", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tagUser(r, "u-77")
			w.WriteHeader(http.StatusAccepted)
		})
		req := httptest.NewRequest("POST", "/api/v1/clips/choice", nil)
		req.Header.Set("X-Request-ID", "req-1")
		lines := accessLines(t, h, req)
		if len(lines) != 1 {
			t.Fatalf("got %d log lines, want 1", len(lines))
		}
		l := lines[0]
		if l["request_id"] != "req-1" || l["user_id"] != "u-77" {
			t.Errorf("fields = %v", l)
		}
		if l["status"] != float64(http.StatusAccepted) || l["path"] != "/api/v1/clips/choice" {
			t.Errorf("access fields = %v", l)
		}
	})

	t.Run("handler_logs_inherit_fields", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tagUser(r, "u-1")
			hlog.FromRequest(r).Warn().Msg("store failed")
		})
		lines := accessLines(t, h, httptest.NewRequest("GET", "/", nil))
		if len(lines) != 2 {
			t.Fatalf("got %d log lines, want 2", len(lines))
		}
		if lines[0]["message"] != "store failed" || lines[0]["user_id"] != "u-1" || lines[0]["request_id"] == nil {
			t.Errorf("handler line = %v", lines[0])
		}
	})

	t.Run("no_user_without_tag", func(t *testing.T) {
		lines := accessLines(t, okHandler, httptest.NewRequest("GET", "/api/v1/health", nil))
		if _, ok := lines[0]["user_id"]; ok {
			t.Errorf("unexpected user_id in %v", lines[0])
		}
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"open_by_default", nil, "GET", "https://any.example", http.StatusOK, "*"},
		{"wildcard_entry", []string{"*"}, "GET", "https://any.example", http.StatusOK, "*"},
		{"listed_origin_echoed", []string{"https://app.example"}, "GET", "https://app.example", http.StatusOK, "https://app.example"},
		{"unlisted_origin_no_headers", []string{"https://app.example"}, "GET", "https://evil.example", http.StatusOK, ""},
		{"preflight_listed", []string{"https://app.example"}, "OPTIONS", "https://app.example", http.StatusNoContent, "https://app.example"},
		{"preflight_unlisted", []string{"https://app.example"}, "OPTIONS", "https://evil.example", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if tt.method == "OPTIONS" && called {
				t.Error("preflight reached the handler")
			}
		})
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   int
	}{
		{"no_token_configured", "", "", "", http.StatusOK},
		{"header_match", "s3cret", "Bearer s3cret", "", http.StatusOK},
		{"header_mismatch", "s3cret", "Bearer nope", "", http.StatusUnauthorized},
		{"eventsource_query", "s3cret", "", "s3cret", http.StatusOK},
		{"query_mismatch", "s3cret", "", "nope", http.StatusUnauthorized},
		{"basic_scheme", "s3cret", "Basic czNjcmV0", "", http.StatusUnauthorized},
		{"missing", "s3cret", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/events/stream"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			BearerAuth(tt.token)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				var body ErrorResponse
				json.Unmarshal(rec.Body.Bytes(), &body)
				if body.Code != ErrUnauthorized {
					t.Errorf("code = %q, want %q", body.Code, ErrUnauthorized)
				}
			}
		})
	}
}

func TestRecoverer(t *testing.T) {
	panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ffmpeg exploded")
	})
	rec := httptest.NewRecorder()
	Recoverer(panicker).ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/clips", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body.Code != ErrInternal || !strings.Contains(body.Error, "internal") {
		t.Errorf("body = %+v", body)
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"123456789", false},
		{"alice@example.com", false},
		{"", true},
		{"a/b", true},
		{"room+1", true},
		{"#general", true},
		{"tab\there", true},
		{strings.Repeat("x", 129), true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if err := validateUserID(tt.id); (err != nil) != tt.wantErr {
				t.Errorf("validateUserID(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
