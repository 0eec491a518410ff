package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// Device error codes that carry meaning for the session layer.
const (
	codeOK                 = 0
	codeSessionTimeout     = 9999
	codeInvalidCredentials = -1501
	codeInvalidTerminal    = -1012
)

// DefaultTimeout bounds a single HTTP round trip when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client is a JSON-over-HTTP transport. One POST to http://<address>/app per
// call; the session token travels as a query parameter.
// It keeps no per-device state: tokens are owned by the session layer.
type Client struct {
	httpClient   *http.Client
	terminalUUID string
}

// NewClient creates a transport with its own HTTP client.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(&http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a transport around an existing HTTP client.
func NewClientWithHTTP(httpClient *http.Client) *Client {
	return &Client{
		httpClient:   httpClient,
		terminalUUID: uuid.NewString(),
	}
}

// Close closes idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type request struct {
	Method          Method         `json:"method"`
	Params          map[string]any `json:"params,omitempty"`
	RequestTimeMils int64          `json:"requestTimeMils"`
	TerminalUUID    string         `json:"terminalUUID"`
}

type response struct {
	ErrorCode int             `json:"error_code"`
	Result    json.RawMessage `json:"result"`
	Msg       string          `json:"msg,omitempty"`
}

// Authenticate performs login_device and returns the issued token.
func (c *Client) Authenticate(ctx context.Context, ep tapo.Endpoint, creds tapo.Credentials) (Token, error) {
	params := map[string]any{
		"username": base64.StdEncoding.EncodeToString([]byte(creds.Username)),
		"password": base64.StdEncoding.EncodeToString([]byte(creds.Secret)),
	}

	result, err := c.call(ctx, ep, "", MethodLogin, params)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			// A login cannot expire; the device is rejecting the credentials.
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &login); err != nil || login.Token == "" {
		return "", c.malformed(ep, MethodLogin, err)
	}

	log.Debug().Str("endpoint", ep.String()).Msg("Device login succeeded")
	return Token(login.Token), nil
}

// Send executes cmd with the given token and returns the raw result.
func (c *Client) Send(ctx context.Context, ep tapo.Endpoint, token Token, cmd Command) (json.RawMessage, error) {
	if cmd.ChildID == "" {
		return c.call(ctx, ep, token, cmd.Method, cmd.Params)
	}

	inner := map[string]any{"method": cmd.Method}
	if cmd.Params != nil {
		inner["params"] = cmd.Params
	}
	params := map[string]any{
		"device_id":   cmd.ChildID,
		"requestData": inner,
	}

	result, err := c.call(ctx, ep, token, MethodControlChild, params)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		ResponseData *response `json:"responseData"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil || wrapped.ResponseData == nil {
		return nil, c.malformed(ep, cmd.Method, err)
	}
	if err := c.classify(ep, cmd.Method, wrapped.ResponseData); err != nil {
		return nil, err
	}
	return wrapped.ResponseData.Result, nil
}

func (c *Client) call(ctx context.Context, ep tapo.Endpoint, token Token, method Method, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(request{
		Method:          method,
		Params:          params,
		RequestTimeMils: time.Now().UnixMilli(),
		TerminalUUID:    c.terminalUUID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(ep, token), bytes.NewReader(body))
	if err != nil {
		return nil, &tapo.TransportError{Endpoint: ep, Op: string(method), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context errors stay visible through the wrapper so callers can
		// tell a timeout from a refused connection.
		return nil, &tapo.TransportError{Endpoint: ep, Op: string(method), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrAuthExpired
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tapo.TransportError{Endpoint: ep, Op: string(method), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &tapo.TransportError{
			Endpoint: ep,
			Op:       string(method),
			Err:      fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, c.malformed(ep, method, err)
	}
	if err := c.classify(ep, method, &r); err != nil {
		return nil, err
	}
	return r.Result, nil
}

func (c *Client) classify(ep tapo.Endpoint, method Method, r *response) error {
	switch r.ErrorCode {
	case codeOK:
		return nil
	case codeSessionTimeout, codeInvalidTerminal:
		return ErrAuthExpired
	case codeInvalidCredentials:
		return ErrInvalidCredentials
	}

	var err error
	if r.Msg != "" {
		err = errors.New(r.Msg)
	}
	return &tapo.TransportError{Endpoint: ep, Op: string(method), Code: r.ErrorCode, Err: err}
}

func (c *Client) malformed(ep tapo.Endpoint, method Method, cause error) error {
	err := ErrMalformedResponse
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedResponse, cause)
	}
	return &tapo.TransportError{Endpoint: ep, Op: string(method), Err: err}
}

func (c *Client) url(ep tapo.Endpoint, token Token) string {
	u := url.URL{Scheme: "http", Host: ep.Address, Path: "/app"}
	if token != "" {
		u.RawQuery = url.Values{"token": {string(token)}}.Encode()
	}
	return u.String()
}
