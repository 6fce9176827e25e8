// Package mpesa talks to the Safaricom Daraja M-Pesa Express (STK push) API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	maxBodyBytes = 1 << 20
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.TokenFetcher and ports.PushProvider against the live API.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpClient     HTTPClient
	breaker        *gobreaker.CircuitBreaker
	clock          clock.Clock
	log            zerolog.Logger
}

var (
	_ ports.TokenFetcher = (*Client)(nil)
	_ ports.PushProvider = (*Client)(nil)
)

func NewClient(cfg config.ProviderConfig, httpClient HTTPClient, breaker *gobreaker.CircuitBreaker, clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		httpClient:     httpClient,
		breaker:        breaker,
		clock:          clk,
		log:            log,
	}
}

// NewBreaker builds the circuit breaker shared by all provider calls.
// Only unavailability trips it; provider rejections are answers, not outages.
func NewBreaker(cfg config.BreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mpesa",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ports.ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// FetchToken exchanges the consumer key/secret for an OAuth access token.
func (c *Client) FetchToken(ctx context.Context) (*domain.AccessToken, error) {
	var out tokenResponse
	err := c.call(ctx, http.MethodGet, tokenPath, func(req *http.Request) {
		req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("fetch token: empty access_token in response")
	}

	secs, err := strconv.ParseInt(out.ExpiresIn.String(), 10, 64)
	if err != nil || secs <= 0 {
		secs = 3599
	}
	return &domain.AccessToken{
		Value:     out.AccessToken,
		ExpiresAt: c.clock.Now().Add(time.Duration(secs) * time.Second),
	}, nil
}

type pushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// SendPush asks the provider to prompt the customer's handset.
func (c *Client) SendPush(ctx context.Context, token string, req ports.PushRequest) (*ports.PushAck, error) {
	body := pushBody{
		BusinessShortCode: req.BusinessShortCode,
		Password:          req.Password,
		Timestamp:         req.Timestamp,
		TransactionType:   req.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.PartyA,
		PartyB:            req.PartyB,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       req.CallBackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.TransactionDesc,
	}

	var out pushResponse
	if err := c.call(ctx, http.MethodPost, pushPath, bearer(token), body, &out); err != nil {
		return nil, fmt.Errorf("send push: %w", err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		return nil, &ports.ProviderError{StatusCode: http.StatusOK, Code: out.ResponseCode, Message: out.ResponseDescription}
	}
	return &ports.PushAck{
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

type queryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string             `json:"ResponseCode"`
	ResponseDescription string             `json:"ResponseDescription"`
	ResultCode          *domain.ResultCode `json:"ResultCode"`
	ResultDesc          string             `json:"ResultDesc"`
}

// QueryPush asks for the outcome of an earlier push. Provider error bodies such as
// "transaction is being processed" come back in the result, not as an error.
func (c *Client) QueryPush(ctx context.Context, token string, q ports.PushQuery) (*ports.PushQueryResult, error) {
	body := queryBody{
		BusinessShortCode: q.BusinessShortCode,
		Password:          q.Password,
		Timestamp:         q.Timestamp,
		CheckoutRequestID: q.CheckoutRequestID,
	}

	var out queryResponse
	err := c.call(ctx, http.MethodPost, queryPath, bearer(token), body, &out)
	var apiErr *ports.ProviderError
	if errors.As(err, &apiErr) {
		return &ports.PushQueryResult{ErrorCode: apiErr.Code, ErrorMessage: apiErr.Message}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query push: %w", err)
	}

	res := &ports.PushQueryResult{
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		ResultDesc:          out.ResultDesc,
	}
	if out.ResultCode != nil {
		res.ResultCode = string(*out.ResultCode)
	}
	return res, nil
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// call runs one request through the circuit breaker and decodes a 2xx body into out.
func (c *Client) call(ctx context.Context, method, path string, decorate func(*http.Request), in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, decorate, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, decorate func(*http.Request), in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	decorate(req)

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("provider request failed")
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ports.ErrProviderUnavailable, err)
	}

	c.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", c.clock.Now().Sub(start)).
		Msg("provider response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ports.ErrProviderUnauthorized, strings.TrimSpace(string(raw)))
	}

	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.ErrorCode != "" {
		return &ports.ProviderError{StatusCode: resp.StatusCode, RequestID: eb.RequestID, Code: eb.ErrorCode, Message: eb.ErrorMessage}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ports.ErrProviderUnavailable, resp.StatusCode)
	}
	return &ports.ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
