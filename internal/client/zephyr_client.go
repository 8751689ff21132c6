package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/heymumford/ztoq/internal/metrics"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
)

// zephyrPaths maps entity kinds to Zephyr Scale API collections.
var zephyrPaths = map[model.EntityKind]string{
	model.KindProject:       "projects",
	model.KindFolder:        "folders",
	model.KindCustomField:   "customfields",
	model.KindTestCase:      "testcases",
	model.KindTestStep:      "teststeps",
	model.KindTestCycle:     "testcycles",
	model.KindTestExecution: "testexecutions",
	model.KindAttachment:    "attachments",
}

// ZephyrClient implements SourceReader against the Zephyr Scale REST API.
// Every request waits on the per-API rate limiter, goes through the
// injected retry policy, and counts against the source circuit breaker.
type ZephyrClient struct {
	baseURL  string
	apiToken string
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
	policy   *resilience.Policy
	breaker  *resilience.Breaker
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewZephyrClient creates a new Zephyr Scale client
func NewZephyrClient(
	baseURL, apiToken string,
	pageSize int,
	timeout time.Duration,
	requestsPerSecond float64,
	burst int,
	policy *resilience.Policy,
	breaker *resilience.Breaker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ZephyrClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZephyrClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		pageSize: pageSize,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		policy:   policy,
		breaker:  breaker,
		metrics:  m,
		logger:   logger,
	}
}

// listResponse is the wire shape of a Zephyr Scale collection page.
type listResponse struct {
	Values     []*model.SourceItem `json:"values"`
	StartAt    int                 `json:"startAt"`
	MaxResults int                 `json:"maxResults"`
	Total      int                 `json:"total"`
	IsLast     bool                `json:"isLast"`
}

// CheckAuth verifies the API token
func (c *ZephyrClient) CheckAuth(ctx context.Context) error {
	return c.do(ctx, "zephyr.check_auth", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		_, err = c.send(req)
		return err
	})
}

// ListEntities returns one page of entities of a kind. The page token is
// the numeric startAt offset of the stable enumeration, so it survives a
// process restart.
func (c *ZephyrClient) ListEntities(ctx context.Context, project string, kind model.EntityKind, pageToken string) (*Page, error) {
	path, ok := zephyrPaths[kind]
	if !ok {
		return nil, resilience.FatalBatch(fmt.Errorf("unknown entity kind: %s", kind))
	}

	startAt := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, resilience.FatalBatch(fmt.Errorf("malformed page token %q: %w", pageToken, err))
		}
		startAt = n
	}

	var page *Page
	err := c.do(ctx, "zephyr.list_"+string(kind), func(ctx context.Context) error {
		query := url.Values{}
		query.Set("projectKey", project)
		query.Set("startAt", strconv.Itoa(startAt))
		query.Set("maxResults", strconv.Itoa(c.pageSize))

		reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, path, query.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}

		body, err := c.send(req)
		if err != nil {
			return err
		}

		var resp listResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to decode %s page: %w", path, err))
		}

		for _, item := range resp.Values {
			item.Kind = kind
		}

		page = &Page{Items: resp.Values, Done: resp.IsLast}
		if !resp.IsLast {
			page.NextPageToken = strconv.Itoa(startAt + len(resp.Values))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetAttachment downloads one attachment blob
func (c *ZephyrClient) GetAttachment(ctx context.Context, project, attachmentID string) ([]byte, string, error) {
	var (
		blob     []byte
		filename string
	)
	err := c.do(ctx, "zephyr.get_attachment", func(ctx context.Context) error {
		reqURL := fmt.Sprintf("%s/attachments/%s/content", c.baseURL, url.PathEscape(attachmentID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return resilience.Transient(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		if classified := resilience.FromStatusCode(resp.StatusCode, "", retryAfter(resp)); classified != nil {
			return classified
		}

		blob, err = io.ReadAll(resp.Body)
		if err != nil {
			return resilience.Transient(fmt.Errorf("failed to read attachment body: %w", err))
		}
		filename = attachmentFilename(resp.Header.Get("Content-Disposition"), attachmentID)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return blob, filename, nil
}

// do applies the rate limiter, circuit breaker and retry policy around one
// logical API call.
func (c *ZephyrClient) do(ctx context.Context, name string, op func(context.Context) error) error {
	return c.policy.Do(ctx, name, func(ctx context.Context) error {
		if err := c.breaker.Allow(); err != nil {
			return err
		}
		if err := waitForSlot(ctx, c.limiter, c.metrics, "zephyr"); err != nil {
			return err
		}
		err := op(ctx)
		if c.metrics != nil {
			c.metrics.RecordAPIRequest("zephyr", err != nil)
		}
		if err != nil {
			c.breaker.RecordFailure(err)
			return err
		}
		c.breaker.RecordSuccess()
		return nil
	})
}

// waitForSlot blocks until the rate limiter grants a request slot, counting
// requests that had to wait.
func waitForSlot(ctx context.Context, limiter *rate.Limiter, m *metrics.Metrics, destination string) error {
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return resilience.FatalBatch(fmt.Errorf("rate limiter cannot grant a request slot"))
	}
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	if m != nil {
		m.RecordRateLimitWait(destination)
	}
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return resilience.FatalBatch(ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// send executes an authenticated request and classifies the response.
func (c *ZephyrClient) send(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if classified := resilience.FromStatusCode(resp.StatusCode, truncate(body), retryAfter(resp)); classified != nil {
		return nil, classified
	}
	return body, nil
}

// retryAfter parses the Retry-After header in seconds, if present.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// truncate bounds a response body for error messages.
func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

// attachmentFilename extracts the filename from a Content-Disposition
// header, falling back to the attachment id.
func attachmentFilename(disposition, attachmentID string) string {
	const marker = `filename="`
	for i := 0; i+len(marker) <= len(disposition); i++ {
		if disposition[i:i+len(marker)] == marker {
			rest := disposition[i+len(marker):]
			for j := 0; j < len(rest); j++ {
				if rest[j] == '"' {
					return rest[:j]
				}
			}
		}
	}
	return attachmentID
}
