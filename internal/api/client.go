package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/observability"
)

// Client talks to the dispatch backend REST API (base path /api). Every
// response is expected to carry the {success, message?, ...} envelope.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer token used on subsequent calls. An empty
// token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

func (e envelope) ok() bool { return e.Success == nil || *e.Success }

// LoginResult is the payload of a successful POST /auth/login.
type LoginResult struct {
	Token    string        `json:"token"`
	DriverID int64         `json:"driver_id"`
	Driver   models.Driver `json:"driver"`
	Balance  float64       `json:"balance"`
}

func (c *Client) Login(ctx context.Context, phone, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"phone": phone, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Me validates the current token and returns the driver it belongs to.
func (c *Client) Me(ctx context.Context) (models.Driver, error) {
	var out struct {
		Driver models.Driver `json:"driver"`
	}
	if err := c.do(ctx, "me", http.MethodGet, "/drivers/me", nil, &out); err != nil {
		return models.Driver{}, err
	}
	return out.Driver, nil
}

func (c *Client) Register(ctx context.Context, draft *models.RegistrationDraft) error {
	return c.do(ctx, "register", http.MethodPost, "/drivers/register", draft, nil)
}

func (c *Client) SetStatus(ctx context.Context, driverID int64, status models.DriverStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, "set_status", http.MethodPut, fmt.Sprintf("/drivers/%d/status", driverID), body, nil)
}

func (c *Client) NearbyOrders(ctx context.Context, pos models.Coord, radiusKm float64) ([]models.Order, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", pos.Lat))
	q.Set("lon", fmt.Sprintf("%.6f", pos.Lon))
	q.Set("radius", fmt.Sprintf("%g", radiusKm))
	var out struct {
		Orders []models.Order `json:"orders"`
	}
	if err := c.do(ctx, "nearby_orders", http.MethodGet, "/orders/nearby?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (c *Client) AcceptOrder(ctx context.Context, driverID, orderID int64) error {
	path := fmt.Sprintf("/drivers/%d/accept-order/%d", driverID, orderID)
	return c.do(ctx, "accept_order", http.MethodPost, path, nil, nil)
}

func (c *Client) PushLocation(ctx context.Context, driverID int64, pos geo.Position) error {
	err := c.do(ctx, "push_location", http.MethodPost, fmt.Sprintf("/drivers/%d/location", driverID), pos, nil)
	if err == nil {
		observability.LocationPushes.Inc()
	}
	return err
}

func (c *Client) ReportProblem(ctx context.Context, report models.ProblemReport) error {
	return c.do(ctx, "report_problem", http.MethodPost, "/problems", report, nil)
}

func (c *Client) Profile(ctx context.Context, driverID int64) (models.Driver, error) {
	var out struct {
		Driver models.Driver `json:"driver"`
	}
	if err := c.do(ctx, "profile", http.MethodGet, fmt.Sprintf("/drivers/%d/profile", driverID), nil, &out); err != nil {
		return models.Driver{}, err
	}
	return out.Driver, nil
}

func (c *Client) Stats(ctx context.Context, driverID int64) (models.DriverStats, error) {
	var out struct {
		Stats models.DriverStats `json:"stats"`
	}
	if err := c.do(ctx, "stats", http.MethodGet, fmt.Sprintf("/drivers/%d/stats", driverID), nil, &out); err != nil {
		return models.DriverStats{}, err
	}
	return out.Stats, nil
}

func (c *Client) TodayStats(ctx context.Context, driverID int64) (models.TodayStats, error) {
	var out struct {
		Stats models.TodayStats `json:"stats"`
	}
	if err := c.do(ctx, "today_stats", http.MethodGet, fmt.Sprintf("/drivers/%d/stats/today", driverID), nil, &out); err != nil {
		return models.TodayStats{}, err
	}
	return out.Stats, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(op, "transport").Inc()
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(op, "transport").Inc()
		return &TransportError{Op: op, Err: err}
	}

	var env envelope
	if len(data) > 0 {
		// a non-JSON body on an error status is fine, the status carries it
		_ = json.Unmarshal(data, &env)
	}
	if resp.StatusCode >= 400 || !env.ok() {
		observability.APIRequestsTotal.WithLabelValues(op, "refused").Inc()
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			observability.APIRequestsTotal.WithLabelValues(op, "refused").Inc()
			return &APIError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response body"}
		}
	}
	observability.APIRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}
