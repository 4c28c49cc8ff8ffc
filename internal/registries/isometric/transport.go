package isometric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"charlog/internal/registrysync/models"
)

// Transport performs the actual network I/O against the registry API. It is
// injected so the adapter's state machine can be exercised against real
// failure modes (timeouts, 4xx/5xx, malformed responses) in tests.
type Transport interface {
	// Create submits a new registry-side entity and returns its assigned id.
	Create(ctx context.Context, entity models.ExternalEntityType, payload any) (CreateResponse, error)

	// GetStatus fetches the registry-side status of a previously created entity.
	GetStatus(ctx context.Context, entity models.ExternalEntityType, externalID string) (string, error)
}

// CreateResponse is the registry's answer to a create call.
type CreateResponse struct {
	ID       string            `json:"id"`
	Status   string            `json:"status,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TransportError classifies a failed registry call. Temporary errors
// (timeouts, 5xx, 429) leave the step retryable.
type TransportError struct {
	StatusCode int
	Message    string
	Temporary  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("registry call failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry call failed: %s", e.Message)
}

// IsTemporary reports whether err is a transient transport failure.
func IsTemporary(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Temporary
}

var entityPaths = map[models.ExternalEntityType]string{
	models.ExternalFacility:           "facilities",
	models.ExternalFeedstockType:      "feedstock-types",
	models.ExternalProductionBatch:    "production-batches",
	models.ExternalStorageLocation:    "storage-locations",
	models.ExternalBiocharApplication: "biochar-applications",
	models.ExternalRemoval:            "removals",
	models.ExternalGHGStatement:       "ghg-statements",
}

// HTTPTransport talks JSON over HTTP to the registry. Every call carries a
// bounded timeout; a deadline hit surfaces as a temporary TransportError.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient overrides the underlying client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithCallTimeout bounds each registry call.
func WithCallTimeout(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// NewHTTPTransport constructs a transport for the registry's REST API.
func NewHTTPTransport(baseURL, apiKey string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) Create(ctx context.Context, entity models.ExternalEntityType, payload any) (CreateResponse, error) {
	path, ok := entityPaths[entity]
	if !ok {
		return CreateResponse{}, &TransportError{Message: fmt.Sprintf("unknown entity type %q", entity)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CreateResponse{}, &TransportError{Message: fmt.Sprintf("encode payload: %v", err)}
	}

	var resp CreateResponse
	if err := t.do(ctx, http.MethodPost, t.baseURL+"/v1/"+path, bytes.NewReader(body), &resp); err != nil {
		return CreateResponse{}, err
	}
	if resp.ID == "" {
		return CreateResponse{}, &TransportError{Message: "registry returned no id"}
	}
	return resp, nil
}

func (t *HTTPTransport) GetStatus(ctx context.Context, entity models.ExternalEntityType, externalID string) (string, error) {
	path, ok := entityPaths[entity]
	if !ok {
		return "", &TransportError{Message: fmt.Sprintf("unknown entity type %q", entity)}
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := t.do(ctx, http.MethodGet, t.baseURL+"/v1/"+path+"/"+externalID, nil, &resp); err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "", &TransportError{Message: "registry returned no status"}
	}
	return resp.Status, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &TransportError{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network and deadline errors are retryable.
		return &TransportError{Message: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			StatusCode: resp.StatusCode,
			Message:    string(msg),
			Temporary:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
