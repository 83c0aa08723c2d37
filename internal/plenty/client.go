package plenty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shopetl/internal/httpclient"
	"shopetl/models"
)

// ErrUnauthorized is returned when the login is rejected
var ErrUnauthorized = errors.New("shop api login rejected")

// StatusError is a non-2xx answer from a JSON endpoint
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Code, body)
}

// PageSize is the itemsPerPage used on every paged endpoint
const PageSize = 100

// Client talks to the shop REST API. It is safe for concurrent use once logged in.
type Client struct {
	http    *httpclient.Client
	baseURL string
	token   string
}

// NewClient builds a client for baseURL, e.g. https://shop.example.com
func NewClient(hc *httpclient.Client, baseURL string) *Client {
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURLFor turns the configured shop host into a base URL
func BaseURLFor(urlMain string) string {
	if strings.HasPrefix(urlMain, "http://") || strings.HasPrefix(urlMain, "https://") {
		return urlMain
	}
	return "https://" + urlMain
}

func (c *Client) Token() string { return c.token }

func (c *Client) SetToken(token string) { c.token = token }

type loginResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

// Login exchanges credentials for a bearer token and keeps it for later calls
func (c *Client) Login(ctx context.Context, username, password string) (models.BearerToken, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/rest/login",
		Body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return models.BearerToken{}, fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.BearerToken{}, fmt.Errorf("login status %d: %w", resp.StatusCode, ErrUnauthorized)
	}

	var lr loginResponse
	if err := json.Unmarshal(resp.Body, &lr); err != nil {
		return models.BearerToken{}, fmt.Errorf("failed to parse login response: %w", err)
	}
	if lr.AccessToken == "" {
		return models.BearerToken{}, fmt.Errorf("login response without token: %w", ErrUnauthorized)
	}

	full := lr.TokenType + " " + lr.AccessToken
	c.token = full
	return models.BearerToken{
		TokenType: lr.TokenType,
		Token:     lr.AccessToken,
		FullToken: full,
		Timestamp: time.Now().Format(time.RFC3339),
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": c.token,
		"Accept":        "application/json",
	}
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) ([]byte, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + endpoint,
		Header: c.headers(),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: string(resp.Body)}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return resp.Body, nil
}

// BarcodeDefinitions fetches the first page of barcode group definitions.
// The raw body is returned alongside the decoded page.
func (c *Client) BarcodeDefinitions(ctx context.Context) (*models.BarcodeDefinitionPage, []byte, error) {
	var page models.BarcodeDefinitionPage
	raw, err := c.getJSON(ctx, "/rest/items/barcodes", url.Values{
		"itemsPerPage": {strconv.Itoa(PageSize)},
	}, &page)
	if err != nil {
		return nil, nil, err
	}
	return &page, raw, nil
}

// Variations fetches one page of variations with their barcodes
func (c *Client) Variations(ctx context.Context, page int) (*models.VariationResponse, error) {
	var resp models.VariationResponse
	_, err := c.getJSON(ctx, "/rest/items/variations", url.Values{
		"page":         {strconv.Itoa(page)},
		"itemsPerPage": {strconv.Itoa(PageSize)},
		"with":         {"variationBarcodes"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReportPath is the raw-data file path of one report page:
// report/rawData/{type}/{shopId}/{YYYY}/{M}/{type}--{YYYY}-{MM}-{DD}--p{page}--v{version}.csv.gz
func ReportPath(t models.ReportType, shopID string, date time.Time, page int) string {
	return fmt.Sprintf("report/rawData/%s/%s/%d/%d/%s--%s--p%d--v%d.csv.gz",
		t, shopID, date.Year(), int(date.Month()), t, date.Format("2006-01-02"), page, t.Version())
}

// RawDataFile requests one report file. Any HTTP status is returned to the
// caller; httpclient.ErrNoResponse means nothing came back at all.
func (c *Client) RawDataFile(ctx context.Context, path string) (*httpclient.Response, error) {
	return c.http.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/rest/bi/raw-data/file",
		Header: c.headers(),
		Query:  url.Values{"path": {path}},
	})
}

// Download fetches an absolute URL without shop credentials
func (c *Client) Download(ctx context.Context, rawURL string) (*httpclient.Response, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: rawURL})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &StatusError{Endpoint: rawURL, Code: resp.StatusCode}
	}
	return resp, nil
}
