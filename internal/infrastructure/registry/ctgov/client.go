package ctgov

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL    = "https://clinicaltrials.gov/api/v2/studies"
	DefaultPageSize   = 100
	DefaultMaxStudies = 500

	fetchFailedMessage = "Failed to fetch from ClinicalTrials.gov"
)

var DefaultStatuses = []string{"RECRUITING"}

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient *http.Client
	// RateLimitRPS throttles page requests; zero disables throttling.
	RateLimitRPS       float64
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if options.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.RateLimitRPS), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		executor:   options.ResilienceExecutor,
	}
}

type studiesPage struct {
	Studies       []map[string]any `json:"studies"`
	NextPageToken string           `json:"nextPageToken"`
	TotalCount    int              `json:"totalCount"`
}

// FetchTrials walks the registry pages for a condition, one request at a
// time, until no continuation token is returned or MaxStudies is reached.
// An empty page ends the walk even when it carries a token. The result never
// holds more than MaxStudies trials.
func (c *Client) FetchTrials(ctx context.Context, query ports.RegistryQuery) ([]domain.FlattenedTrial, error) {
	query = normalizeQuery(query)
	params := baseParams(query)

	all := make([]domain.FlattenedTrial, 0, query.PageSize)
	pageToken := ""
	for {
		pageParams := cloneValues(params)
		if pageToken != "" {
			pageParams.Set("pageToken", pageToken)
		}

		var page studiesPage
		if err := c.getJSON(ctx, c.baseURL+"?"+pageParams.Encode(), "registry.page", &page); err != nil {
			return nil, err
		}
		for _, study := range page.Studies {
			all = append(all, BuildAndRenameTrial(study))
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
		if len(page.Studies) == 0 {
			slog.Warn("registry_empty_page_with_token", "condition", query.Condition, "fetched", len(all))
			break
		}
		if len(all) >= query.MaxStudies {
			break
		}
	}

	if len(all) > query.MaxStudies {
		all = all[:query.MaxStudies]
	}
	return all, nil
}

// FetchTrial loads one study by its NCT identifier.
func (c *Client) FetchTrial(ctx context.Context, nctID string) (*domain.FlattenedTrial, error) {
	nctID = strings.TrimSpace(nctID)
	if nctID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch trial", fmt.Errorf("nct id is required"))
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("markupFormat", "markdown")

	var study map[string]any
	endpoint := c.baseURL + "/" + url.PathEscape(nctID) + "?" + params.Encode()
	if err := c.getJSON(ctx, endpoint, "registry.study", &study); err != nil {
		return nil, err
	}
	trial := BuildAndRenameTrial(study)
	return &trial, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, operation string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.NewPublicError(fetchFailedMessage, err)
		}
	}

	call := func(callCtx context.Context) error {
		return c.doGet(callCtx, endpoint, operation, out)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, operation, call, classifyRegistryError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return toRegistryError(operation, err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func normalizeQuery(query ports.RegistryQuery) ports.RegistryQuery {
	query.Condition = strings.TrimSpace(query.Condition)
	if query.PageSize <= 0 {
		query.PageSize = DefaultPageSize
	}
	if query.Statuses == nil {
		query.Statuses = DefaultStatuses
	}
	if query.MaxStudies <= 0 {
		query.MaxStudies = DefaultMaxStudies
	}
	return query
}

func baseParams(query ports.RegistryQuery) url.Values {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("markupFormat", "markdown")
	params.Set("query.cond", query.Condition)
	params.Set("pageSize", strconv.Itoa(query.PageSize))
	params.Set("countTotal", "true")
	if len(query.Statuses) > 0 {
		params.Set("filter.overallStatus", strings.Join(query.Statuses, ","))
	}
	return params
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, vals := range values {
		out[key] = append([]string(nil), vals...)
	}
	return out
}
