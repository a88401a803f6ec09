package brink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://www.brink-home.com/portal/api/portal/"

	requestTimeout = 10 * time.Second
	userAgent      = "okhttp/3.11.0"

	// Writing a ventilation level only sticks when the unit is in manual mode.
	manualModeValue = "1"
)

// Client talks to the Brink Home portal API. The portal keeps the login in a
// session cookie, so the underlying http.Client needs a cookie jar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	timeout    time.Duration
	logger     *log.Logger

	username string
	password string

	mu            sync.RWMutex
	authenticated bool
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient does not perform any I/O. A nil httpClient gets a fresh client
// with its own cookie jar.
func NewClient(httpClient *http.Client, username string, password string, opts ...Option) *Client {
	if httpClient == nil {
		jar, _ := cookiejar.New(nil)
		httpClient = &http.Client{Jar: jar}
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		headers: http.Header{
			"X-Requested-With": []string{"XMLHttpRequest"},
			"User-Agent":       []string{userAgent},
			"Content-Type":     []string{"application/json; charset=UTF-8"},
		},
		timeout:  requestTimeout,
		logger:   log.Default(),
		username: username,
		password: password,
	}

	for _, opt := range opts {
		opt(c)
	}

	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}

	return c
}

// Authenticated reports whether Login has succeeded on this client. The
// portal may still expire the session cookie independently.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.authenticated
}

// Login returns the decoded response body as is; its shape is up to the portal.
func (c *Client) Login(ctx context.Context) (any, error) {
	body := loginRequest{
		UserName: c.username,
		Password: c.password,
	}

	response, err := c.apiCall(ctx, http.MethodPost, "UserLogon", body)
	if err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Printf("brink: login result: %v", result)

	return result, nil
}

func (c *Client) Systems(ctx context.Context) ([]System, error) {
	response, err := c.apiCall(ctx, http.MethodGet, "GetSystemList", nil)
	if err != nil {
		return nil, err
	}

	var raw []rawSystem
	if err := json.Unmarshal(response, &raw); err != nil {
		return nil, fmt.Errorf("decode system list: %w", err)
	}

	systems := make([]System, 0, len(raw))
	for _, system := range raw {
		systems = append(systems, System{
			SystemID:  system.ID,
			GatewayID: system.GatewayID,
			Name:      system.Name,
		})
	}

	c.logger.Printf("brink: systems: %+v", systems)

	return systems, nil
}

// DescriptionValues reads the parameters shown on the portal's home page.
// The portal lists ventilation level first and mode second; nothing in the
// response identifies them otherwise, so a reordering on the portal side
// would swap the two.
func (c *Client) DescriptionValues(ctx context.Context, systemID int, gatewayID int) (*Descriptions, error) {
	query := url.Values{}
	query.Set("GatewayId", fmt.Sprint(gatewayID))
	query.Set("SystemId", fmt.Sprint(systemID))

	response, err := c.apiCall(ctx, http.MethodGet, "GetParameterValues?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var result parameterValuesResponse
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, fmt.Errorf("decode parameter values: %w", err)
	}

	pages, err := result.MenuItems.pages()
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages in menu", ErrUnexpectedResponse)
	}

	parameters := pages[0].ParameterDescriptors
	if len(parameters) < 2 {
		return nil, fmt.Errorf("%w: expected 2 parameter descriptors on home page, got %d", ErrUnexpectedResponse, len(parameters))
	}

	descriptions := &Descriptions{
		Ventilation: parameters[0].descriptor(),
		Mode:        parameters[1].descriptor(),
	}

	c.logger.Printf("brink: description values for system %v: %+v", systemID, descriptions)

	return descriptions, nil
}

// SetVentilationValue writes ventilation.Value as the new level. Mode is
// forced to manual in the same bundle, otherwise the unit falls back to its
// schedule.
func (c *Client) SetVentilationValue(ctx context.Context, systemID int, gatewayID int, mode ParameterDescriptor, ventilation ParameterDescriptor) (string, error) {
	body := writeRequest{
		GatewayID: gatewayID,
		SystemID:  systemID,
		WriteParameterValues: []writeParameterValue{
			{ValueID: mode.ValueID, Value: manualModeValue},
			{ValueID: ventilation.ValueID, Value: ventilation.Value},
		},
		SendInOneBundle:               true,
		DependendReadValuesAfterWrite: []int{ventilation.ValueID, mode.ValueID},
	}

	response, err := c.apiCall(ctx, http.MethodPost, "WriteParameterValuesAsync", body)
	if err != nil {
		return "", err
	}

	c.logger.Printf("brink: set ventilation value result: %s", response)

	return string(response), nil
}

func (c *Client) SetModeValue(ctx context.Context, systemID int, gatewayID int, mode ParameterDescriptor) (string, error) {
	body := writeRequest{
		GatewayID: gatewayID,
		SystemID:  systemID,
		WriteParameterValues: []writeParameterValue{
			{ValueID: mode.ValueID, Value: mode.Value},
		},
		SendInOneBundle:               true,
		DependendReadValuesAfterWrite: []int{mode.ValueID},
	}

	response, err := c.apiCall(ctx, http.MethodPost, "WriteParameterValuesAsync", body)
	if err != nil {
		return "", err
	}

	c.logger.Printf("brink: set mode value result: %s", response)

	return string(response), nil
}

func (c *Client) apiCall(ctx context.Context, method string, path string, data any) ([]byte, error) {
	endpoint := c.baseURL + path

	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range c.headers {
		req.Header[key] = values
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDeadline(ctx, err) {
			c.logger.Printf("brink: client timeout error on API request %v", endpoint)
			return nil, fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, path, err)
		}

		c.logger.Printf("brink: client error on API %v request %v", endpoint, err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if isDeadline(ctx, err) {
			c.logger.Printf("brink: client timeout error on API request %v", endpoint)
			return nil, fmt.Errorf("%w: read %s: %w", ErrTimeout, path, err)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		c.logger.Printf("brink: client error on API %v request %v", endpoint, err)
		return nil, err
	}

	return payload, nil
}

func isDeadline(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
