package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"loghold/internal/config"
	"loghold/internal/indexer"
	"loghold/internal/logger"
	"loghold/pkg/circuitbreaker"
	pkgerrors "loghold/pkg/errors"
	"loghold/pkg/metrics"
	"loghold/pkg/retry"
)

const recoveryWaitTimeout = "30s"

// Client talks to an Elasticsearch-compatible search backend over its JSON
// REST API. All calls retry transient failures and run behind a circuit
// breaker; callers see only the final outcome.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Wrapper
	policy  retry.Policy
	log     logger.Logger
}

func NewClient(cfg config.ElasticsearchConfig, log logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy = retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
		}
	}

	var breaker *circuitbreaker.Wrapper
	if cfg.CircuitBreaker.Enabled {
		breaker = circuitbreaker.NewWrapper(circuitbreaker.Config{
			Name:         "elasticsearch",
			MaxRequests:  cfg.CircuitBreaker.MaxRequests,
			Interval:     cfg.CircuitBreaker.Interval,
			Timeout:      cfg.CircuitBreaker.Timeout,
			FailureRatio: cfg.CircuitBreaker.FailureRatio,
			MinRequests:  cfg.CircuitBreaker.MinRequests,
		})
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		policy:  policy,
		log:     log,
	}
}

type response struct {
	status int
	body   []byte
}

// send issues one HTTP request per retry attempt. Server errors (5xx) and
// transport failures are retried; any other status is returned to the caller
// for interpretation.
func (c *Client) send(ctx context.Context, operation, method, path string, body interface{}) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", operation, err)
		}
	}

	var resp *response
	err := retry.Do(ctx, c.policy, func() error {
		result, err := c.attempt(ctx, method, path, payload)
		if err != nil {
			return err
		}
		if result.status >= http.StatusInternalServerError {
			return fmt.Errorf("%s %s: backend returned %d", method, path, result.status)
		}
		resp = result
		return nil
	})

	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	metrics.BackendRequestsTotal.WithLabelValues(operation, "success").Inc()
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*response, error) {
	call := func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, retry.NewPermanentError(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
		return &response{status: res.StatusCode, body: data}, nil
	}

	var (
		result interface{}
		err    error
	)
	if c.breaker != nil {
		result, err = c.breaker.Execute(ctx, call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// No point hammering an open breaker inside the retry loop.
			return nil, retry.NewPermanentError(err)
		}
	} else {
		result, err = call()
	}
	if err != nil {
		return nil, err
	}
	return result.(*response), nil
}

// Ping verifies the backend answers at all. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.send(ctx, "ping", http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("backend ping returned %d", resp.status)
	}
	return nil
}

// Create provisions a new physical index. The result is advisory only: a
// failed creation is logged and reported as false, never as an error, since
// the index may already exist or be created by a peer.
func (c *Client) Create(ctx context.Context, indexName string) bool {
	resp, err := c.send(ctx, "create_index", http.MethodPut, "/"+url.PathEscape(indexName), map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{
				"number_of_replicas": 0,
			},
		},
	})
	if err != nil {
		c.log.Errorw("Failed to create index", "index", indexName, "error", err)
		return false
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		c.log.Errorw("Backend rejected index creation",
			"index", indexName, "status", resp.status, "body", string(resp.body))
		return false
	}
	return true
}

// WaitForRecovery blocks until the index reports at least yellow health or
// the backend's wait times out. Errors degrade to red so callers can decide
// whether to proceed.
func (c *Client) WaitForRecovery(ctx context.Context, indexName string) indexer.HealthStatus {
	path := fmt.Sprintf("/_cluster/health/%s?wait_for_status=yellow&timeout=%s",
		url.PathEscape(indexName), recoveryWaitTimeout)

	resp, err := c.send(ctx, "cluster_health", http.MethodGet, path, nil)
	if err != nil {
		c.log.Errorw("Failed to read index health", "index", indexName, "error", err)
		return indexer.HealthRed
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.body, &health); err != nil {
		c.log.Errorw("Unparseable cluster health response", "index", indexName, "error", err)
		return indexer.HealthRed
	}

	switch indexer.HealthStatus(health.Status) {
	case indexer.HealthGreen:
		return indexer.HealthGreen
	case indexer.HealthYellow:
		return indexer.HealthYellow
	default:
		return indexer.HealthRed
	}
}

func (c *Client) AliasExists(ctx context.Context, aliasName string) (bool, error) {
	resp, err := c.send(ctx, "alias_exists", http.MethodGet, "/_alias/"+url.PathEscape(aliasName), nil)
	if err != nil {
		return false, err
	}
	if resp.status == http.StatusNotFound {
		return false, nil
	}
	if resp.status != http.StatusOK {
		return false, fmt.Errorf("alias lookup for %s returned %d", aliasName, resp.status)
	}
	return true, nil
}

// AliasTarget resolves the single index behind an alias. A multi-target
// alias is corrupt state and reported as an error.
func (c *Client) AliasTarget(ctx context.Context, aliasName string) (string, error) {
	resp, err := c.send(ctx, "alias_target", http.MethodGet, "/_alias/"+url.PathEscape(aliasName), nil)
	if err != nil {
		return "", err
	}
	if resp.status == http.StatusNotFound {
		return "", pkgerrors.ErrNotFound.WithDetail("alias", aliasName)
	}
	if resp.status != http.StatusOK {
		return "", fmt.Errorf("alias lookup for %s returned %d", aliasName, resp.status)
	}

	var targets map[string]json.RawMessage
	if err := json.Unmarshal(resp.body, &targets); err != nil {
		return "", fmt.Errorf("unparseable alias response for %s: %w", aliasName, err)
	}
	if len(targets) != 1 {
		return "", fmt.Errorf("alias %s points at %d indices, expected exactly one", aliasName, len(targets))
	}

	for indexName := range targets {
		return indexName, nil
	}
	return "", pkgerrors.ErrNotFound.WithDetail("alias", aliasName)
}

// CycleAlias points the alias at newIndex without touching other mappings.
// Used for first-time setup when the alias does not exist yet.
func (c *Client) CycleAlias(ctx context.Context, aliasName, newIndex string) error {
	return c.updateAliases(ctx, "cycle_alias", []aliasAction{
		{Add: &aliasTarget{Index: newIndex, Alias: aliasName}},
	})
}

// CycleAliasFrom swaps the alias from oldIndex to newIndex in one atomic
// backend call, so the alias never resolves to zero or two targets.
func (c *Client) CycleAliasFrom(ctx context.Context, aliasName, newIndex, oldIndex string) error {
	return c.updateAliases(ctx, "cycle_alias", []aliasAction{
		{Remove: &aliasTarget{Index: oldIndex, Alias: aliasName}},
		{Add: &aliasTarget{Index: newIndex, Alias: aliasName}},
	})
}

type aliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

type aliasAction struct {
	Add    *aliasTarget `json:"add,omitempty"`
	Remove *aliasTarget `json:"remove,omitempty"`
}

func (c *Client) updateAliases(ctx context.Context, operation string, actions []aliasAction) error {
	resp, err := c.send(ctx, operation, http.MethodPost, "/_aliases", map[string]interface{}{
		"actions": actions,
	})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("alias update returned %d: %s", resp.status, string(resp.body))
	}
	return nil
}

// ListAll returns every index in the cluster with its document count and
// store size. Callers filter down to the indices they manage.
func (c *Client) ListAll(ctx context.Context) (map[string]indexer.IndexStats, error) {
	resp, err := c.send(ctx, "list_indices", http.MethodGet, "/_stats/docs,store", nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("index stats returned %d", resp.status)
	}

	var stats struct {
		Indices map[string]struct {
			Primaries struct {
				Docs struct {
					Count int64 `json:"count"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
			} `json:"primaries"`
		} `json:"indices"`
	}
	if err := json.Unmarshal(resp.body, &stats); err != nil {
		return nil, fmt.Errorf("unparseable index stats: %w", err)
	}

	result := make(map[string]indexer.IndexStats, len(stats.Indices))
	for name, idx := range stats.Indices {
		result[name] = indexer.IndexStats{
			Documents:      idx.Primaries.Docs.Count,
			StoreSizeBytes: idx.Primaries.Store.SizeInBytes,
		}
	}
	return result, nil
}

// IndexDocument writes one document under an explicit id. Writing through
// an alias lands the document in whatever index the alias points at.
func (c *Client) IndexDocument(ctx context.Context, indexName, id string, doc map[string]interface{}) error {
	resp, err := c.send(ctx, "index_document", http.MethodPut,
		"/"+url.PathEscape(indexName)+"/_doc/"+url.PathEscape(id), doc)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return fmt.Errorf("indexing document %s into %s returned %d", id, indexName, resp.status)
	}
	return nil
}

// SetReadOnly blocks writes to a retired index.
func (c *Client) SetReadOnly(ctx context.Context, indexName string) error {
	resp, err := c.send(ctx, "set_read_only", http.MethodPut,
		"/"+url.PathEscape(indexName)+"/_settings", map[string]interface{}{
			"index": map[string]interface{}{
				"blocks": map[string]interface{}{
					"write": true,
				},
			},
		})
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("setting %s read-only returned %d", indexName, resp.status)
	}
	return nil
}

// Optimize merges a read-only index down to one segment.
func (c *Client) Optimize(ctx context.Context, indexName string) error {
	resp, err := c.send(ctx, "optimize_index", http.MethodPost,
		"/"+url.PathEscape(indexName)+"/_forcemerge?max_num_segments=1", nil)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return fmt.Errorf("optimizing %s returned %d", indexName, resp.status)
	}
	return nil
}

// CalculateRange computes the message timestamp span of one index via a
// min/max aggregation.
func (c *Client) CalculateRange(ctx context.Context, indexName string) (indexer.IndexRange, error) {
	start := time.Now()

	resp, err := c.send(ctx, "calculate_range", http.MethodPost,
		"/"+url.PathEscape(indexName)+"/_search", map[string]interface{}{
			"size": 0,
			"aggs": map[string]interface{}{
				"ts_min": map[string]interface{}{
					"min": map[string]interface{}{"field": "timestamp"},
				},
				"ts_max": map[string]interface{}{
					"max": map[string]interface{}{"field": "timestamp"},
				},
			},
		})
	if err != nil {
		return indexer.IndexRange{}, err
	}
	if resp.status != http.StatusOK {
		return indexer.IndexRange{}, fmt.Errorf("range search on %s returned %d", indexName, resp.status)
	}

	var result struct {
		Aggregations struct {
			TsMin struct {
				Value *float64 `json:"value"`
			} `json:"ts_min"`
			TsMax struct {
				Value *float64 `json:"value"`
			} `json:"ts_max"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return indexer.IndexRange{}, fmt.Errorf("unparseable range response for %s: %w", indexName, err)
	}

	now := time.Now().UTC()
	rng := indexer.IndexRange{
		IndexName:    indexName,
		CalculatedAt: now,
		TookMs:       time.Since(start).Milliseconds(),
	}

	// An empty index has null aggregation values and covers an empty range
	// anchored at calculation time.
	if result.Aggregations.TsMin.Value != nil && result.Aggregations.TsMax.Value != nil {
		rng.Begin = time.UnixMilli(int64(*result.Aggregations.TsMin.Value)).UTC()
		rng.End = time.UnixMilli(int64(*result.Aggregations.TsMax.Value)).UTC()
	} else {
		rng.Begin = now
		rng.End = now
	}
	return rng, nil
}
