package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// CoreClient wraps the mirador-core collaborator APIs the control loop
// consumes: metric summaries and history, error statistics, and optimization
// recommendations. Calls go through a circuit breaker so a struggling core
// never stalls the detection loop, and read results are cached briefly.
type CoreClient struct {
	baseURL             string
	summaryPath         string
	historyPath         string
	errorStatsPath      string
	recommendationsPath string
	httpClient          *http.Client
	breaker             *gobreaker.CircuitBreaker
	cache               cache.Provider
	summaryTTL          time.Duration
	errorStatsTTL       time.Duration
	recommendationsTTL  time.Duration
}

// CoreClientConfig configures access to mirador-core.
type CoreClientConfig struct {
	BaseURL             string
	SummaryPath         string
	HistoryPath         string
	ErrorStatsPath      string
	RecommendationsPath string
	Timeout             time.Duration
	SummaryTTL          time.Duration
	ErrorStatsTTL       time.Duration
	RecommendationsTTL  time.Duration
}

// NewCoreClient constructs a client targeting the configured mirador-core
// instance. cacheProvider may be nil.
func NewCoreClient(cfg CoreClientConfig, cacheProvider cache.Provider) *CoreClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mirador-core",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &CoreClient{
		baseURL:             strings.TrimRight(cfg.BaseURL, "/"),
		summaryPath:         cfg.SummaryPath,
		historyPath:         cfg.HistoryPath,
		errorStatsPath:      cfg.ErrorStatsPath,
		recommendationsPath: cfg.RecommendationsPath,
		httpClient:          &http.Client{Timeout: cfg.Timeout},
		breaker:             breaker,
		cache:               cacheProvider,
		summaryTTL:          cfg.SummaryTTL,
		errorStatsTTL:       cfg.ErrorStatsTTL,
		recommendationsTTL:  cfg.RecommendationsTTL,
	}
}

type summaryResponse struct {
	Metrics map[string]struct {
		Value  float64             `json:"value"`
		Status models.MetricStatus `json:"status"`
	} `json:"metrics"`
}

// GetMetricSummary returns the latest value/status per metric name.
func (c *CoreClient) GetMetricSummary(ctx context.Context) (map[string]models.MetricPoint, error) {
	var response summaryResponse
	if err := c.cachedGet(ctx, c.summaryPath, "heal:summary", c.summaryTTL, &response); err != nil {
		return nil, utils.NewAppError("repo.GetMetricSummary", "fetch metric summary", err)
	}

	summary := make(map[string]models.MetricPoint, len(response.Metrics))
	for name, point := range response.Metrics {
		summary[name] = models.MetricPoint{Value: point.Value, Status: point.Status}
	}
	return summary, nil
}

type historyResponse struct {
	Samples []struct {
		Timestamp time.Time           `json:"timestamp"`
		Value     float64             `json:"value"`
		Status    models.MetricStatus `json:"status"`
	} `json:"samples"`
}

// GetMetricHistory returns samples for one metric within the trailing window,
// oldest first.
func (c *CoreClient) GetMetricHistory(ctx context.Context, name string, window time.Duration) ([]models.MetricSample, error) {
	payload := map[string]interface{}{
		"metric":         name,
		"window_seconds": int(window.Seconds()),
	}

	var response historyResponse
	if err := c.postJSON(ctx, c.historyPath, payload, &response); err != nil {
		return nil, utils.NewAppError("repo.GetMetricHistory", "fetch history for "+name, err)
	}

	samples := make([]models.MetricSample, 0, len(response.Samples))
	for _, sample := range response.Samples {
		samples = append(samples, models.MetricSample{
			Name:      name,
			Timestamp: sample.Timestamp,
			Value:     sample.Value,
			Status:    sample.Status,
		})
	}
	return samples, nil
}

type errorStatsResponse struct {
	ErrorRate  float64        `json:"error_rate"`
	Categories map[string]int `json:"categories"`
}

// GetErrorStatistics returns the error/health reporter snapshot.
func (c *CoreClient) GetErrorStatistics(ctx context.Context) (models.ErrorStats, error) {
	var response errorStatsResponse
	if err := c.cachedGet(ctx, c.errorStatsPath, "heal:errorstats", c.errorStatsTTL, &response); err != nil {
		return models.ErrorStats{}, utils.NewAppError("repo.GetErrorStatistics", "fetch error statistics", err)
	}
	return models.ErrorStats{ErrorRate: response.ErrorRate, Categories: response.Categories}, nil
}

type recommendationsResponse struct {
	Recommendations []struct {
		Type     string          `json:"type"`
		Priority models.Severity `json:"priority"`
	} `json:"recommendations"`
}

// ListRecommendations returns outstanding recommendations; only type and
// priority are consumed, to gate optimization automation.
func (c *CoreClient) ListRecommendations(ctx context.Context) ([]models.Recommendation, error) {
	var response recommendationsResponse
	if err := c.cachedGet(ctx, c.recommendationsPath, "heal:recommendations", c.recommendationsTTL, &response); err != nil {
		return nil, utils.NewAppError("repo.ListRecommendations", "fetch recommendations", err)
	}

	recs := make([]models.Recommendation, 0, len(response.Recommendations))
	for _, rec := range response.Recommendations {
		recs = append(recs, models.Recommendation{Type: rec.Type, Priority: rec.Priority})
	}
	return recs, nil
}

// cachedGet serves from cache when possible and refreshes the cache on a
// successful fetch. Cache failures fall through to the network.
func (c *CoreClient) cachedGet(ctx context.Context, path, cacheKey string, ttl time.Duration, out interface{}) error {
	if ttl > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			if err := json.Unmarshal(data, out); err == nil {
				return nil
			}
			// Drop the corrupt entry and fetch fresh.
			_ = c.cache.Del(ctx, cacheKey)
		}
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if ttl > 0 {
		_ = c.cache.Set(ctx, cacheKey, body, ttl)
	}
	return nil
}

func (c *CoreClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *CoreClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("mirador-core base URL not configured")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
