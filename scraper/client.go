package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ecocounter_ingest/config"
	"ecocounter_ingest/models"
)

const maxErrorBody = 512

// Source is the upstream the orchestrator downloads from.
type Source interface {
	FetchSites(ctx context.Context) ([]models.Site, error)
	FetchCounts(ctx context.Context, oid string) (*models.CountSeries, error)
}

// Client talks to the SmartView map feature and counter endpoints.
type Client struct {
	cfg    config.SourceConfig
	client *http.Client
}

func NewClient(cfg config.SourceConfig, client *http.Client) *Client {
	return &Client{cfg: cfg, client: client}
}

// FetchSites downloads the counter catalog in upstream order.
func (c *Client) FetchSites(ctx context.Context) ([]models.Site, error) {
	endpoint := c.sitesURL()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	sites, err := parseSites(body)
	if err != nil {
		return nil, &ParseError{What: "site catalog", Err: err}
	}
	return sites, nil
}

// FetchCounts downloads the daily count series for one site.
func (c *Client) FetchCounts(ctx context.Context, oid string) (*models.CountSeries, error) {
	endpoint, err := c.countsURL(oid)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	series, err := parseCounts(body)
	if err != nil {
		return nil, &ParseError{What: fmt.Sprintf("counts for %s", oid), Err: err}
	}
	return series, nil
}

func (c *Client) sitesURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.SitesPath
}

func (c *Client) countsURL(oid string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.CountsPath)
	if err != nil {
		return "", fmt.Errorf("counts url: %w", err)
	}
	q := u.Query()
	q.Set("oid", oid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &NetworkError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
