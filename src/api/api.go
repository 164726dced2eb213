// Package api is the client for the analysis backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"askshot/src/screenshot"
)

var (
	// ErrNoCredits is returned when the backend refuses a question for lack of credits.
	ErrNoCredits = errors.New("no credits left")
	// ErrUnauthorized is returned when the session is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	DefaultBaseURL = "https://askshot.xyz"
	maxRetries     = 3
	initialDelay   = 1 * time.Second
	noCreditsError = "No credits left"
)

// TokenSource supplies the bearer token for each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is a non-2xx answer the client has no sentinel for
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API returned status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("API returned status %d", e.Code)
}

// AnalyzeRequest asks one question about an image
type AnalyzeRequest struct {
	Image        string `json:"image"`
	Question     string `json:"question"`
	ScreenshotID string `json:"screenshotId,omitempty"`
}

// AnalyzeResponse is the backend's answer
type AnalyzeResponse struct {
	Answer         string `json:"answer"`
	ScreenshotID   string `json:"screenshotId,omitempty"`
	FreeTrialsLeft *int   `json:"freeTrialsLeft,omitempty"`
	IsExpired      bool   `json:"isExpired,omitempty"`
}

// Screenshot is a history entry
type Screenshot struct {
	ID        string    `json:"_id"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Question is one stored question and answer
type Question struct {
	ID        string    `json:"_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

// ScreenshotDetail is a history entry with its conversation
type ScreenshotDetail struct {
	Screenshot *Screenshot `json:"screenshot,omitempty"`
	Questions  []Question  `json:"questions"`
}

// Credits is the caller's free-trial state
type Credits struct {
	FreeTrialsLeft int  `json:"freeTrialsLeft"`
	IsExpired      bool `json:"isExpired"`
}

// Tier is the caller's plan
type Tier struct {
	Tier string `json:"tier"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks JSON to the backend
type Client struct {
	baseURL    string
	http       *http.Client
	tokens     TokenSource
	retryDelay time.Duration
}

// New creates a client. tokens may be nil for unauthenticated calls.
func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: timeout},
		tokens:     tokens,
		retryDelay: initialDelay,
	}
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Analyze submits the image and question. It is never retried: every
// accepted call costs a credit.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}
	image, err := screenshot.NormalizeImageData(req.Image)
	if err != nil {
		return nil, err
	}
	req.Image = image

	var out AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/api/analyze", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Screenshots lists the caller's history.
func (c *Client) Screenshots(ctx context.Context) ([]Screenshot, error) {
	var out struct {
		Screenshots []Screenshot `json:"screenshots"`
	}
	if err := c.get(ctx, "/api/screenshots", &out); err != nil {
		return nil, err
	}
	return out.Screenshots, nil
}

// ScreenshotQuestions loads a history entry with its questions.
func (c *Client) ScreenshotQuestions(ctx context.Context, id string) (*ScreenshotDetail, error) {
	var out ScreenshotDetail
	if err := c.get(ctx, "/api/screenshots/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteScreenshot removes a history entry.
func (c *Client) DeleteScreenshot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/screenshots/"+url.PathEscape(id), nil, nil)
}

// DeleteQuestion removes one question from a conversation.
func (c *Client) DeleteQuestion(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/questions/"+url.PathEscape(id), nil, nil)
}

// Credits reads the caller's free-trial counters.
func (c *Client) Credits(ctx context.Context) (*Credits, error) {
	var out Credits
	if err := c.get(ctx, "/api/user/credits", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tier reads the caller's plan.
func (c *Client) Tier(ctx context.Context) (*Tier, error) {
	var out Tier
	if err := c.get(ctx, "/api/user/tier", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get retries transport errors and 5xx answers with a growing delay.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(c.retryDelay) * (1.5 * float64(attempt)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		log.Printf("API: GET %s attempt %d failed: %v", path, attempt+1, err)
		lastErr = err
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCredits) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(code int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	switch {
	case code == http.StatusForbidden && eb.Error == noCreditsError:
		return ErrNoCredits
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return &StatusError{Code: code, Message: eb.Error}
}
