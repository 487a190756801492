package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"wildcard", []string{"*"}, "https://a.example", http.MethodGet, "https://a.example", "", http.StatusTeapot},
		{"explicit", []string{"https://a.example"}, "https://a.example", http.MethodPost, "https://a.example", "true", http.StatusTeapot},
		{"rejected", []string{"https://a.example"}, "https://b.example", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight", []string{"*"}, "https://a.example", http.MethodOptions, "https://a.example", "", http.StatusOK},
		{"no origin", []string{"*"}, "", http.MethodGet, "", "", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/sessions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	if got := ParseOrigins(" https://a.example, ,https://b.example "); !reflect.DeepEqual(got, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("unexpected origins: %v", got)
	}
	if got := ParseOrigins(""); !reflect.DeepEqual(got, []string{"*"}) {
		t.Fatalf("empty list should allow all, got %v", got)
	}
}
