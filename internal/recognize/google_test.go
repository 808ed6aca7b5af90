package recognize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"transcript-pipeline/internal/domain"
)

// TestGoogleSubmit checks the long-running request body and API key.
func TestGoogleSubmit(t *testing.T) {
	var got longRunningRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/speech:longrunningrecognize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		_, _ = io.WriteString(w, `{"name":"12345"}`)
	}))
	defer srv.Close()

	g := NewGoogleBackendWithClient(srv.URL, "secret", srv.Client())
	cfg := testConfig()
	cfg.EnableWordOffsets = true
	cfg.EnablePunctuation = true
	cfg.Model = "latest_long"

	h, err := g.Submit(context.Background(), "gs://bucket/run/a.wav", cfg)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if h.Name != "12345" {
		t.Fatalf("handle = %q", h.Name)
	}
	if got.Audio.URI != "gs://bucket/run/a.wav" {
		t.Fatalf("uri = %q", got.Audio.URI)
	}
	c := got.Config
	if c.Encoding != "LINEAR16" || c.SampleRateHertz != 16000 || c.LanguageCode != "en-US" ||
		!c.EnableWordTimeOffsets || !c.EnableAutomaticPunctuation || c.Model != "latest_long" {
		t.Fatalf("unexpected config %+v", c)
	}
}

// TestGoogleSubmitRejected checks rejection and empty names are submission errors.
func TestGoogleSubmitRejected(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"forbidden": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error":{"code":403,"message":"quota exceeded"}}`)
		},
		"no name": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{}`)
		},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			_, err := NewGoogleBackendWithClient(srv.URL, "", srv.Client()).Submit(context.Background(), "gs://b/k", testConfig())
			if !errors.Is(err, domain.ErrJobSubmission) {
				t.Fatalf("error = %v, want ErrJobSubmission", err)
			}
		})
	}
}

// TestGoogleSubmitUnreachable checks transport failures are submission errors.
func TestGoogleSubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGoogleBackendWithClient(url, "", nil).Submit(context.Background(), "gs://b/k", testConfig())
	if !errors.Is(err, domain.ErrJobSubmission) {
		t.Fatalf("error = %v, want ErrJobSubmission", err)
	}
}

// TestGooglePollAndFetch checks done detection and word offset parsing.
func TestGooglePollAndFetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/operations/op-7" {
			t.Errorf("path = %s", r.URL.Path)
		}
		calls++
		if calls == 1 {
			_, _ = io.WriteString(w, `{"name":"op-7","metadata":{"progressPercent":40}}`)
			return
		}
		_, _ = io.WriteString(w, `{"name":"op-7","done":true,"response":{"results":[
			{"alternatives":[{"transcript":" Hello world.","confidence":0.91,"words":[
				{"startTime":"0s","word":"Hello"},{"startTime":"1.400s","word":"world."}]},
				{"transcript":"hollow world"}]},
			{"alternatives":[]},
			{"alternatives":[{"transcript":"Again","words":[{"startTime":"121.500s","word":"Again"}]}]}
		]}}`)
	}))
	defer srv.Close()

	g := NewGoogleBackendWithClient(srv.URL, "", srv.Client())
	h := Handle{Name: "op-7"}

	done, err := g.Poll(context.Background(), h)
	if err != nil || done {
		t.Fatalf("first Poll() = %v, %v; want false, nil", done, err)
	}
	done, err = g.Poll(context.Background(), h)
	if err != nil || !done {
		t.Fatalf("second Poll() = %v, %v; want true, nil", done, err)
	}

	rs, err := g.FetchResult(context.Background(), h)
	if err != nil {
		t.Fatalf("FetchResult() error = %v", err)
	}
	if len(rs.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(rs.Segments))
	}
	first := rs.Segments[0]
	if first.Transcript != "Hello world." || first.Confidence != 0.91 {
		t.Fatalf("first segment = %+v", first)
	}
	if first.Words[1].Text != "world." || first.Words[1].StartOffset != 1400*time.Millisecond {
		t.Fatalf("second word = %+v", first.Words[1])
	}
	if rs.Segments[1].Words[0].StartOffset != 121500*time.Millisecond {
		t.Fatalf("offset = %s", rs.Segments[1].Words[0].StartOffset)
	}
}

// TestGoogleFetchOperationError checks a failed operation is an unknown error.
func TestGoogleFetchOperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"name":"op","done":true,"error":{"code":3,"message":"audio too long"}}`)
	}))
	defer srv.Close()

	_, err := NewGoogleBackendWithClient(srv.URL, "", srv.Client()).FetchResult(context.Background(), Handle{Name: "op"})
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("error = %v, want ErrUnknown", err)
	}
}

// TestGooglePollFailure checks a failed status query is an unknown error.
func TestGooglePollFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewGoogleBackendWithClient(srv.URL, "", srv.Client()).Poll(context.Background(), Handle{Name: "op"})
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("error = %v, want ErrUnknown", err)
	}
}

// slowHandler delays every response by delay unless the client gives up first.
func slowHandler(delay time.Duration, body func(r *http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, body(r))
	}
}

// TestGoogleFetchOutlivesRequestTimeout checks a terminal fetch is bounded by
// the fetch timeout, not by the per-request bound on submit and poll.
func TestGoogleFetchOutlivesRequestTimeout(t *testing.T) {
	var mu sync.Mutex
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"name":"op-9"}`)
			return
		}
		mu.Lock()
		gets++
		n := gets
		mu.Unlock()
		if n == 1 {
			_, _ = io.WriteString(w, `{"name":"op-9","done":true}`)
			return
		}
		slowHandler(300*time.Millisecond, func(*http.Request) string {
			return `{"name":"op-9","done":true,"response":{"results":[
				{"alternatives":[{"transcript":"late","words":[{"startTime":"2s","word":"late"}]}]}]}}`
		})(w, r)
	}))
	defer srv.Close()

	g := NewGoogleBackendWithClient(srv.URL, "", srv.Client())
	g.requestTimeout = 100 * time.Millisecond
	cfg := testConfig()
	cfg.FetchTimeout = 5 * time.Second

	rs, err := NewPoller(g, cfg).Run(context.Background(), "gs://b/k", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rs.WordCount() != 1 || rs.Segments[0].Words[0].StartOffset != 2*time.Second {
		t.Fatalf("result = %+v", rs)
	}
}

// TestGooglePollRequestTimeout checks a hung poll fails within the request bound.
func TestGooglePollRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(slowHandler(time.Second, func(*http.Request) string {
		return `{"name":"op-1","done":true}`
	}))
	defer srv.Close()

	g := NewGoogleBackendWithClient(srv.URL, "", srv.Client())
	g.requestTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := g.Poll(context.Background(), Handle{Name: "op-1"})
	if !errors.Is(err, domain.ErrUnknown) {
		t.Fatalf("error = %v, want ErrUnknown", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Poll() took %s", elapsed)
	}
}

// TestNewGoogleBackendAPIKey checks key auth needs no ambient credentials.
func TestNewGoogleBackendAPIKey(t *testing.T) {
	g, err := NewGoogleBackend(context.Background(), domain.GoogleConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewGoogleBackend() error = %v", err)
	}
	if g.endpoint != DefaultEndpoint {
		t.Fatalf("endpoint = %q", g.endpoint)
	}
	if g.client.Timeout != 0 || g.requestTimeout != requestTimeout {
		t.Fatalf("client timeout = %s, request timeout = %s", g.client.Timeout, g.requestTimeout)
	}
	if got := g.url("/operations/x"); got != DefaultEndpoint+"/operations/x?key=k" {
		t.Fatalf("url = %q", got)
	}
}

// TestNewGoogleBackendBadCredentialsFile checks unreadable credentials fail.
func TestNewGoogleBackendBadCredentialsFile(t *testing.T) {
	_, err := NewGoogleBackend(context.Background(), domain.GoogleConfig{CredentialsFile: "/nonexistent/creds.json"})
	if err == nil {
		t.Fatal("expected error")
	}
}

// TestParseOffset checks duration parsing.
func TestParseOffset(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":       0,
		"0s":     0,
		"1.400s": 1400 * time.Millisecond,
		"120s":   2 * time.Minute,
	} {
		got, err := parseOffset(in)
		if err != nil || got != want {
			t.Fatalf("parseOffset(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := parseOffset("soon"); err == nil {
		t.Fatal("expected error")
	}
}

// TestCheckCredentials checks key and file credential resolution.
func TestCheckCredentials(t *testing.T) {
	src, err := CheckCredentials(context.Background(), domain.GoogleConfig{APIKey: "k"})
	if err != nil || src != "API key" {
		t.Fatalf("CheckCredentials(key) = %q, %v", src, err)
	}
	if _, err := CheckCredentials(context.Background(), domain.GoogleConfig{CredentialsFile: "/nonexistent/creds.json"}); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
}
