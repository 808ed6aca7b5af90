package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"transcript-pipeline/internal/domain"
	. "transcript-pipeline/internal/logging"
)

const (
	// DefaultEndpoint is the Speech-to-Text REST root with word offsets on long audio.
	DefaultEndpoint = "https://speech.googleapis.com/v1p1beta1"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	// requestTimeout bounds submit and poll calls. Result fetches are
	// bounded by the caller's fetch timeout instead.
	requestTimeout = 60 * time.Second
)

// GoogleBackend runs recognition through the Google Cloud Speech-to-Text
// long-running REST API.
type GoogleBackend struct {
	endpoint       string
	apiKey         string
	client         *http.Client
	requestTimeout time.Duration
}

// NewGoogleBackend builds a backend from credentials. An API key wins over a
// credentials file, which wins over application default credentials.
func NewGoogleBackend(ctx context.Context, cfg domain.GoogleConfig) (*GoogleBackend, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		L_info("recognize: google backend initialized", "auth", "api_key", "endpoint", endpoint)
		return NewGoogleBackendWithClient(endpoint, key, &http.Client{}), nil
	}

	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read google credentials %s: %w", path, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse google credentials %s: %w", path, err)
		}
		client := oauth2.NewClient(ctx, creds.TokenSource)
		L_info("recognize: google backend initialized", "auth", "credentials_file", "endpoint", endpoint)
		return NewGoogleBackendWithClient(endpoint, "", client), nil
	}

	client, err := google.DefaultClient(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("google credentials not configured: %w", err)
	}
	L_info("recognize: google backend initialized", "auth", "application_default", "endpoint", endpoint)
	return NewGoogleBackendWithClient(endpoint, "", client), nil
}

// NewGoogleBackendWithClient builds a backend around an existing HTTP client.
func NewGoogleBackendWithClient(endpoint, apiKey string, client *http.Client) *GoogleBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleBackend{
		endpoint:       strings.TrimRight(endpoint, "/"),
		apiKey:         apiKey,
		client:         client,
		requestTimeout: requestTimeout,
	}
}

type longRunningRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type recognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	AudioChannelCount          int    `json:"audioChannelCount"`
	LanguageCode               string `json:"languageCode"`
	EnableWordTimeOffsets      bool   `json:"enableWordTimeOffsets"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	Model                      string `json:"model,omitempty"`
}

type recognitionAudio struct {
	URI string `json:"uri"`
}

type operation struct {
	Name     string        `json:"name"`
	Done     bool          `json:"done"`
	Error    *apiStatus    `json:"error,omitempty"`
	Response *recognizeRes `json:"response,omitempty"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type recognizeRes struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				StartTime string `json:"startTime"`
				Word      string `json:"word"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Submit starts a long-running recognition job for the staged audio at uri.
func (g *GoogleBackend) Submit(ctx context.Context, uri string, cfg domain.RecognitionConfig) (Handle, error) {
	body, err := json.Marshal(longRunningRequest{
		Config: recognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            cfg.SampleRateHz,
			AudioChannelCount:          1,
			LanguageCode:               cfg.LanguageCode,
			EnableWordTimeOffsets:      cfg.EnableWordOffsets,
			EnableAutomaticPunctuation: cfg.EnablePunctuation,
			Model:                      cfg.Model,
		},
		Audio: recognitionAudio{URI: uri},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: marshal request: %w", domain.ErrJobSubmission, err)
	}

	L_debug("recognize: submitting job", "uri", uri, "language", cfg.LanguageCode, "model", cfg.Model)

	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	var op operation
	if err := g.do(ctx, http.MethodPost, "/speech:longrunningrecognize", body, &op); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", domain.ErrJobSubmission, err)
	}
	if op.Name == "" {
		return Handle{}, fmt.Errorf("%w: backend returned no operation name", domain.ErrJobSubmission)
	}

	L_info("recognize: job submitted", "operation", op.Name)
	return Handle{Name: op.Name}, nil
}

// Poll reports whether the operation has finished, successfully or not.
func (g *GoogleBackend) Poll(ctx context.Context, h Handle) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	op, err := g.operation(ctx, h)
	if err != nil {
		return false, fmt.Errorf("%w: poll %s: %w", domain.ErrUnknown, h.Name, err)
	}
	return op.Done, nil
}

// FetchResult retrieves the word-level result of a finished operation. The
// first alternative of each result is used. Only ctx bounds the request.
func (g *GoogleBackend) FetchResult(ctx context.Context, h Handle) (domain.ResultSet, error) {
	op, err := g.operation(ctx, h)
	if err != nil {
		return domain.ResultSet{}, fmt.Errorf("fetch %s: %w", h.Name, err)
	}
	if !op.Done {
		return domain.ResultSet{}, fmt.Errorf("%w: operation %s is not finished", domain.ErrUnknown, h.Name)
	}
	if op.Error != nil {
		return domain.ResultSet{}, fmt.Errorf("%w: recognition job failed: %s (code %d)", domain.ErrUnknown, op.Error.Message, op.Error.Code)
	}
	if op.Response == nil {
		return domain.ResultSet{}, nil
	}

	var rs domain.ResultSet
	for _, r := range op.Response.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		seg := domain.Segment{
			Transcript: strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
			Words:      make([]domain.WordToken, 0, len(alt.Words)),
		}
		for _, w := range alt.Words {
			offset, err := parseOffset(w.StartTime)
			if err != nil {
				return domain.ResultSet{}, fmt.Errorf("%w: word %q: %w", domain.ErrUnknown, w.Word, err)
			}
			seg.Words = append(seg.Words, domain.WordToken{Text: w.Word, StartOffset: offset})
		}
		rs.Segments = append(rs.Segments, seg)
	}

	L_debug("recognize: result fetched", "operation", h.Name, "segments", len(rs.Segments), "words", rs.WordCount())
	return rs, nil
}

func (g *GoogleBackend) operation(ctx context.Context, h Handle) (operation, error) {
	var op operation
	err := g.do(ctx, http.MethodGet, "/operations/"+h.Name, nil, &op)
	return op, err
}

func (g *GoogleBackend) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.url(path), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		L_error("recognize: google request failed", "status", resp.StatusCode, "path", path)
		var errResp struct {
			Error apiStatus `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("google API error: %s (status %d)", errResp.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("google API error: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (g *GoogleBackend) url(path string) string {
	u := g.endpoint + path
	if g.apiKey != "" {
		u += "?key=" + url.QueryEscape(g.apiKey)
	}
	return u
}

// parseOffset parses a protobuf JSON duration such as "1.400s".
func parseOffset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return d, nil
}

// CheckCredentials resolves the credentials NewGoogleBackend would use and
// describes their source without making a recognition request.
func CheckCredentials(ctx context.Context, cfg domain.GoogleConfig) (string, error) {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return "API key", nil
	}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read google credentials %s: %w", path, err)
		}
		if _, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope); err != nil {
			return "", fmt.Errorf("parse google credentials %s: %w", path, err)
		}
		return "credentials file " + path, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return "", fmt.Errorf("no google credentials found: %w", err)
	}
	if creds.ProjectID != "" {
		return "application default credentials (project " + creds.ProjectID + ")", nil
	}
	return "application default credentials", nil
}
