package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/heymumford/ztoq/internal/metrics"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
)

// qtestPaths maps entity kinds to qTest API collections.
var qtestPaths = map[model.EntityKind]string{
	model.KindProject:       "projects",
	model.KindFolder:        "modules",
	model.KindCustomField:   "settings/fields",
	model.KindTestCase:      "test-cases",
	model.KindTestStep:      "test-steps",
	model.KindTestCycle:     "test-cycles",
	model.KindTestExecution: "test-runs",
	model.KindAttachment:    "attachments",
}

// QTestClient implements TargetWriter against the qTest REST API.
type QTestClient struct {
	baseURL  string
	apiToken string
	client   *http.Client
	limiter  *rate.Limiter
	policy   *resilience.Policy
	breaker  *resilience.Breaker
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewQTestClient creates a new qTest client
func NewQTestClient(
	baseURL, apiToken string,
	timeout time.Duration,
	requestsPerSecond float64,
	burst int,
	policy *resilience.Policy,
	breaker *resilience.Breaker,
	m *metrics.Metrics,
	logger *zap.Logger,
) *QTestClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QTestClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		policy:   policy,
		breaker:  breaker,
		metrics:  m,
		logger:   logger,
	}
}

// createResponse is the wire shape of a qTest create response.
type createResponse struct {
	ID json.Number `json:"id"`
}

// CheckAuth verifies the API token
func (c *QTestClient) CheckAuth(ctx context.Context) error {
	return c.do(ctx, "qtest.check_auth", func(ctx context.Context) error {
		reqURL := c.baseURL + "/api/v3/users/me"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		_, err = c.send(req)
		return err
	})
}

// Create creates one entity in the target project and returns its id
func (c *QTestClient) Create(ctx context.Context, project string, item *model.TargetItem) (string, error) {
	path, ok := qtestPaths[item.Kind]
	if !ok {
		return "", resilience.FatalBatch(fmt.Errorf("unknown entity kind: %s", item.Kind))
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return "", resilience.FatalItem(fmt.Errorf("failed to marshal %s %s: %w", item.Kind, item.SourceID, err))
	}

	var targetID string
	err = c.do(ctx, "qtest.create_"+string(item.Kind), func(ctx context.Context) error {
		reqURL := fmt.Sprintf("%s/api/v3/projects/%s/%s", c.baseURL, url.PathEscape(project), path)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		body, err := c.send(req)
		if err != nil {
			return err
		}

		var resp createResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return resilience.FatalItem(fmt.Errorf("failed to decode create response: %w", err))
		}
		if resp.ID == "" {
			return resilience.FatalItem(fmt.Errorf("create response carried no id"))
		}
		targetID = resp.ID.String()
		return nil
	})
	if err != nil {
		return "", err
	}

	return targetID, nil
}

// Update overwrites an already-created entity
func (c *QTestClient) Update(ctx context.Context, project, targetID string, item *model.TargetItem) error {
	path, ok := qtestPaths[item.Kind]
	if !ok {
		return resilience.FatalBatch(fmt.Errorf("unknown entity kind: %s", item.Kind))
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return resilience.FatalItem(fmt.Errorf("failed to marshal %s %s: %w", item.Kind, item.SourceID, err))
	}

	return c.do(ctx, "qtest.update_"+string(item.Kind), func(ctx context.Context) error {
		reqURL := fmt.Sprintf("%s/api/v3/projects/%s/%s/%s", c.baseURL, url.PathEscape(project), path, url.PathEscape(targetID))
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(payload))
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		_, err = c.send(req)
		return err
	})
}

// Delete removes a target entity; rollback walks mappings newest-first
func (c *QTestClient) Delete(ctx context.Context, project string, kind model.EntityKind, targetID string) error {
	path, ok := qtestPaths[kind]
	if !ok {
		return resilience.FatalBatch(fmt.Errorf("unknown entity kind: %s", kind))
	}

	return c.do(ctx, "qtest.delete_"+string(kind), func(ctx context.Context) error {
		reqURL := fmt.Sprintf("%s/api/v3/projects/%s/%s/%s", c.baseURL, url.PathEscape(project), path, url.PathEscape(targetID))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		_, err = c.send(req)
		return err
	})
}

// UploadAttachment attaches a blob to an already-created parent entity
func (c *QTestClient) UploadAttachment(ctx context.Context, project, parentTargetID, filename string, blob []byte) (string, error) {
	var attachmentID string
	err := c.do(ctx, "qtest.upload_attachment", func(ctx context.Context) error {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return resilience.FatalItem(fmt.Errorf("failed to build multipart body: %w", err))
		}
		if _, err := part.Write(blob); err != nil {
			return resilience.FatalItem(fmt.Errorf("failed to write attachment body: %w", err))
		}
		if err := writer.Close(); err != nil {
			return resilience.FatalItem(fmt.Errorf("failed to finalize multipart body: %w", err))
		}

		reqURL := fmt.Sprintf("%s/api/v3/projects/%s/test-cases/%s/blob-handles",
			c.baseURL, url.PathEscape(project), url.PathEscape(parentTargetID))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
		if err != nil {
			return resilience.FatalBatch(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		body, err := c.send(req)
		if err != nil {
			return err
		}

		var resp createResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return resilience.FatalItem(fmt.Errorf("failed to decode upload response: %w", err))
		}
		attachmentID = resp.ID.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	return attachmentID, nil
}

// do applies the rate limiter, circuit breaker and retry policy around one
// logical API call.
func (c *QTestClient) do(ctx context.Context, name string, op func(context.Context) error) error {
	return c.policy.Do(ctx, name, func(ctx context.Context) error {
		if err := c.breaker.Allow(); err != nil {
			return err
		}
		if err := waitForSlot(ctx, c.limiter, c.metrics, "qtest"); err != nil {
			return err
		}
		err := op(ctx)
		if c.metrics != nil {
			c.metrics.RecordAPIRequest("qtest", err != nil)
		}
		if err != nil {
			c.breaker.RecordFailure(err)
			return err
		}
		c.breaker.RecordSuccess()
		return nil
	})
}

// send executes an authenticated request and classifies the response.
func (c *QTestClient) send(req *http.Request) ([]byte, error) {
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
