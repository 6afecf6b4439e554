package weather

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLineReturnsPlaceholderThenCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("city"); got != "北京" {
			t.Errorf("city = %s", got)
		}
		w.Write([]byte(`{"data":{"observe":{"weather":"晴","degree":"25"}}}`))
	}))
	defer srv.Close()

	s := NewService(srv.Client(), func() string { return "北京" }, discardLogger())
	s.endpoint = srv.URL

	if got := s.Line(context.Background()); got != placeholder {
		t.Fatalf("first call = %q, want placeholder", got)
	}

	want := "☀️ 北京 晴 25°C"
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := s.Line(context.Background()); got == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache never filled, last = %q", s.Line(context.Background()))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRefreshFailureKeepsPlaceholder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewService(srv.Client(), func() string { return "上海" }, discardLogger())
	s.endpoint = srv.URL

	if got := s.Line(context.Background()); got != placeholder {
		t.Fatalf("got %q, want placeholder", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Line(context.Background()); got != placeholder {
		t.Fatalf("after failed refresh got %q, want placeholder", got)
	}
}

func TestIconFor(t *testing.T) {
	cases := map[string]string{"晴": "☀️", "小雨": "🌧️", "多云": "☁️"}
	for in, want := range cases {
		if got := iconFor(in); got != want {
			t.Fatalf("iconFor(%s) = %s, want %s", in, got, want)
		}
	}
}
