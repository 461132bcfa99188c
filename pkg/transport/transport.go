// Package transport carries request/response calls to the messaging service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/chatcore/pkg/chaterr"
)

const DefaultTimeout = 15 * time.Second

// Transport performs one remote call. payload is encoded as the request body
// and the response is decoded into out when out is non-nil.
type Transport interface {
	Call(ctx context.Context, method string, payload, out any) error
}

// TokenSource supplies the bearer token of the active session.
type TokenSource interface {
	Token() string
}

type Options struct {
	Timeout time.Duration
	Client  *http.Client
	Logger  *log.Logger
}

// HTTP posts JSON to <base>/<method>.
type HTTP struct {
	base   string
	client *http.Client
	tokens TokenSource
	logger *log.Logger
}

func NewHTTP(baseURL string, tokens TokenSource, opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		tokens: tokens,
		logger: logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *HTTP) Call(ctx context.Context, method string, payload, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return chaterr.E(chaterr.KindValidation, method, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/"+strings.TrimLeft(method, "/"), body)
	if err != nil {
		return chaterr.E(chaterr.KindValidation, method, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if h.tokens != nil {
		if token := h.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Printf("transport: %s [%s] failed: %v", method, requestID, err)
		return chaterr.Transport(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return statusError(method, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return chaterr.Transport(method, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(method string, code int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	err := fmt.Errorf("status %d: %s", code, msg)

	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return chaterr.E(chaterr.KindNotAuthenticated, method, err)
	case http.StatusNotFound:
		return chaterr.E(chaterr.KindNotFound, method, err)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return chaterr.E(chaterr.KindValidation, method, err)
	case http.StatusConflict:
		return chaterr.E(chaterr.KindConflict, method, err)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return chaterr.E(chaterr.KindTimeout, method, err)
	}
	return chaterr.E(chaterr.KindTransport, method, err)
}
