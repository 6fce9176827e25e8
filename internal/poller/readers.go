package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"

	"github.com/google/uuid"
)

// StoreReader reads status straight from a TransactionStore.
type StoreReader struct {
	store ports.TransactionStore
}

func NewStoreReader(store ports.TransactionStore) *StoreReader {
	return &StoreReader{store: store}
}

func (r *StoreReader) ReadStatus(ctx context.Context, id uuid.UUID, _ int) (domain.TransactionStatus, error) {
	tx, err := r.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if tx == nil {
		return "", fmt.Errorf("transaction %s not found", id)
	}
	return tx.Status, nil
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPStatusReader reads status through the gateway API. When QueryEvery is set,
// every QueryEvery-th attempt asks the gateway to query the provider instead.
type HTTPStatusReader struct {
	baseURL    string
	token      string
	client     HTTPClient
	QueryEvery int
}

func NewHTTPStatusReader(baseURL, bearerToken string, client HTTPClient) *HTTPStatusReader {
	return &HTTPStatusReader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   bearerToken,
		client:  client,
	}
}

type statusEnvelope struct {
	Data struct {
		Status domain.TransactionStatus `json:"status"`
	} `json:"data"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (r *HTTPStatusReader) ReadStatus(ctx context.Context, id uuid.UUID, attempt int) (domain.TransactionStatus, error) {
	method, url := http.MethodGet, r.baseURL+"/payments/status/"+id.String()
	if r.QueryEvery > 0 && attempt%r.QueryEvery == 0 {
		method, url = http.MethodPost, url+"/query"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env statusEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return "", fmt.Errorf("decode status response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status request failed: HTTP %d %s %s", resp.StatusCode, env.ErrorCode, env.Message)
	}
	return env.Data.Status, nil
}
