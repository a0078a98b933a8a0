package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vodhub/internal/models"
)

// Client issues list queries against third-party source endpoints. One client
// serves every source; per-call deadlines come from the caller's context.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

func NewClient(httpClient *http.Client, userAgent string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// ListQuery is the subset of the common list-API parameters the pipeline
// needs. Zero values are omitted from the request.
type ListQuery struct {
	Page       int
	Keyword    string
	CategoryID int
	// Hours restricts to items updated within the window; used by
	// incremental collection.
	Hours int
	// IDs asks for full detail rows of specific items.
	IDs []string
}

// FetchResult carries one parsed page plus the facts the caller needs for
// health tracking and format write-back.
type FetchResult struct {
	Page           *ListPage
	DetectedFormat string
	Latency        time.Duration
}

// FetchList performs one bounded GET against the source's list endpoint and
// parses the response. Network errors, HTTP errors and parse errors are all
// returned as plain errors; the caller decides whether they count against
// source health.
func (c *Client) FetchList(ctx context.Context, src models.Source, q ListQuery) (FetchResult, error) {
	reqURL, err := buildListURL(src.EndpointURL, src.ResponseFormat, q)
	if err != nil {
		return FetchResult{}, fmt.Errorf("build list url for %s: %w", src.Key, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchResult{Latency: time.Since(start)}, fmt.Errorf("fetch %s: %w", src.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{Latency: time.Since(start)}, fmt.Errorf("fetch %s: unexpected status %d", src.Key, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return FetchResult{Latency: time.Since(start)}, fmt.Errorf("read %s response: %w", src.Key, err)
	}
	latency := time.Since(start)

	page, detected, err := Parse(body, src.ResponseFormat)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("source payload unparseable",
				zap.String("source", src.Key),
				zap.String("declared", src.ResponseFormat),
				zap.Error(err),
			)
		}
		return FetchResult{Page: page, DetectedFormat: detected, Latency: latency}, err
	}
	return FetchResult{Page: page, DetectedFormat: detected, Latency: latency}, nil
}

func buildListURL(endpoint, format string, q ListQuery) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("endpoint %q is not an absolute http(s) URL", endpoint)
	}

	values := u.Query()
	if len(q.IDs) > 0 {
		values.Set("ac", "videolist")
		values.Set("ids", strings.Join(q.IDs, ","))
	} else {
		values.Set("ac", "videolist")
		if q.Page > 0 {
			values.Set("pg", strconv.Itoa(q.Page))
		}
		if q.Keyword != "" {
			values.Set("wd", q.Keyword)
		}
		if q.CategoryID > 0 {
			values.Set("t", strconv.Itoa(q.CategoryID))
		}
		if q.Hours > 0 {
			values.Set("h", strconv.Itoa(q.Hours))
		}
	}
	if strings.EqualFold(format, models.FormatXML) {
		values.Set("at", "xml")
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}
