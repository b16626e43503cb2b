// Package registry talks to the spreadsheet-backed wallet store behind its
// web-hook endpoint. Reads return the stored balance and display name; writes
// are fire-and-forget: the endpoint never exposes a response body for them,
// so "ok" only means the request was dispatched.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Lookup when the registry has no record for the
// wallet id, or when the response does not match the expected shape.
var ErrNotFound = errors.New("wallet not found")

// DefaultName stands in for a blank display name column.
const DefaultName = "Studio Member"

type Wallet struct {
	Coins int
	Name  string
}

type Lead struct {
	Name             string
	Email            string
	Phone            string
	BusinessCategory string
	WalletID         string
	Coins            int
}

type Options struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		url:        strings.TrimSpace(opts.URL),
		httpClient: opts.HTTPClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Lookup reads the balance record for walletID. The id is uppercased before
// the query and a timestamp token busts the endpoint's cache.
func (c *Client) Lookup(ctx context.Context, walletID string) (Wallet, error) {
	if c.httpClient == nil {
		return Wallet{}, errors.New("http client is nil")
	}

	cleanID := strings.ToUpper(strings.TrimSpace(walletID))

	q := url.Values{}
	q.Set("action", "getBalance")
	q.Set("walletId", cleanID)
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return Wallet{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Wallet{}, fmt.Errorf("registry lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Wallet{}, ErrNotFound
	}

	var decoded struct {
		Success bool    `json:"success"`
		Coins   float64 `json:"coins"`
		Name    string  `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Wallet{}, ErrNotFound
	}
	if !decoded.Success {
		return Wallet{}, ErrNotFound
	}

	name := strings.TrimSpace(decoded.Name)
	if name == "" {
		name = DefaultName
	}

	return Wallet{
		Coins: int(decoded.Coins),
		Name:  name,
	}, nil
}

// CreateLead submits a signup profile together with the freshly generated
// wallet id and its starting grant.
func (c *Client) CreateLead(ctx context.Context, lead Lead) bool {
	form := url.Values{}
	form.Set("action", "submitLead")
	form.Set("timestamp", c.now().Format("2006-01-02 15:04:05"))
	form.Set("name", lead.Name)
	form.Set("email", lead.Email)
	form.Set("phone", lead.Phone)
	form.Set("businessCategory", lead.BusinessCategory)
	form.Set("walletId", lead.WalletID)
	form.Set("coins", strconv.Itoa(lead.Coins))

	return c.post(ctx, "submitLead", form)
}

// UpdateBalance writes the new absolute balance for walletID.
func (c *Client) UpdateBalance(ctx context.Context, walletID string, coins int) bool {
	form := url.Values{}
	form.Set("action", "updateBalance")
	form.Set("walletId", strings.ToUpper(strings.TrimSpace(walletID)))
	form.Set("coins", strconv.Itoa(coins))

	return c.post(ctx, "updateBalance", form)
}

func (c *Client) post(ctx context.Context, action string, form url.Values) bool {
	if c.httpClient == nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Error("registry write failed", "action", action, "err", err)
		return false
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("registry write failed", "action", action, "err", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return true
}
