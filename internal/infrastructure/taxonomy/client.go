package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
)

const (
	categorizePath = "/api/categorize"

	unreachableMessage = "Failed to reach the classification service"
)

// Client calls the classification service that turns condition keywords into
// a three-bucket taxonomy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

type categorizeRequest struct {
	Conditions []string `json:"conditions"`
}

type categorizeResponse struct {
	Summary *domain.TaxonomySummary `json:"summary"`
	Lookup  map[string]string       `json:"lookup"`
}

// Categorize sends the whole keyword set in one request. Missing buckets or
// lookup in a successful response default to empty.
func (c *Client) Categorize(ctx context.Context, conditions []string) (domain.TaxonomyData, error) {
	if conditions == nil {
		conditions = []string{}
	}
	payload, err := json.Marshal(categorizeRequest{Conditions: conditions})
	if err != nil {
		return domain.TaxonomyData{}, fmt.Errorf("marshal categorize request: %w", err)
	}

	var raw []byte
	call := func(callCtx context.Context) error {
		body, err := c.post(callCtx, payload)
		if err != nil {
			return err
		}
		raw = body
		return nil
	}
	if c.executor != nil {
		err = c.executor.Execute(ctx, "taxonomy.categorize", call, classifyTaxonomyError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.TaxonomyData{}, toTaxonomyError(err)
	}

	var decoded categorizeResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return domain.TaxonomyData{}, domain.NewPublicError(
				"Classification service returned an unreadable response",
				domain.WrapError(domain.ErrUpstream, "taxonomy.categorize", err),
			)
		}
	}

	data := domain.TaxonomyData{Lookup: decoded.Lookup}
	if decoded.Summary != nil {
		data.Summary = *decoded.Summary
	}
	return data.Normalize(), nil
}

// post returns the body of a successful response. The body is read once and
// reused for the error message on failure.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+categorizePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create categorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("categorize request: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    ErrorMessage(resp.StatusCode, body),
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("read categorize response: %w", readErr)
	}
	return body, nil
}
