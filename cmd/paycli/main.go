// Command paycli initiates an STK push against a running gateway and polls
// the transaction until it reaches a terminal state or the poller times out.
//
//	paycli -phone 0712345678 -amount 300 -purpose ACTIVATION_FEE
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/adapter/http/dto"
	"stk-push-gateway/internal/poller"
	"stk-push-gateway/internal/service"
	"stk-push-gateway/pkg/clock"
	"stk-push-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type options struct {
	baseURL     string
	phone       string
	amount      string
	purpose     string
	description string
	idempKey    string
	subject     string
	attempts    int
	interval    time.Duration
	queryEvery  int
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.baseURL, "url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "gateway base URL")
	flag.StringVar(&opts.phone, "phone", "", "customer phone number")
	flag.StringVar(&opts.amount, "amount", "", "amount in KES")
	flag.StringVar(&opts.purpose, "purpose", "ACTIVATION_FEE", "payment purpose")
	flag.StringVar(&opts.description, "desc", "", "transaction description")
	flag.StringVar(&opts.idempKey, "idempotency-key", "", "Idempotency-Key header value")
	flag.StringVar(&opts.subject, "subject", "paycli", "JWT subject when jwt.secret is configured")
	flag.IntVar(&opts.attempts, "attempts", cfg.Poller.MaxAttempts, "maximum status reads")
	flag.DurationVar(&opts.interval, "interval", cfg.Poller.Interval, "delay between status reads")
	flag.IntVar(&opts.queryEvery, "query-every", 0, "ask the provider on every N-th read (0 = never)")
	flag.Parse()

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	if opts.phone == "" || opts.amount == "" {
		flag.Usage()
		os.Exit(2)
	}
	amount, err := decimal.NewFromString(opts.amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid amount %q: %v\n", opts.amount, err)
		os.Exit(2)
	}

	var bearer string
	if cfg.JWT.Secret != "" {
		tokens := service.NewJWTTokenService(cfg.JWT, clock.Real())
		bearer, _, err = tokens.Generate(opts.subject)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to mint bearer token")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 30 * time.Second}
	pushed, err := push(ctx, client, opts, bearer, dto.PushRequest{
		PhoneNumber: opts.phone,
		Amount:      amount,
		Description: opts.description,
		Purpose:     opts.purpose,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Push failed")
	}
	fmt.Printf("push accepted: transaction=%s checkout=%s\n%s\n",
		pushed.TransactionID, pushed.ProviderRequestID, pushed.CustomerMessage)

	id, err := uuid.Parse(pushed.TransactionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Gateway returned an invalid transaction id")
	}

	reader := poller.NewHTTPStatusReader(opts.baseURL, bearer, client)
	reader.QueryEvery = opts.queryEvery
	cfgPoll := poller.Config{MaxAttempts: opts.attempts, Interval: opts.interval}
	p := poller.New(reader, clock.Real(), cfgPoll, logger.Component(log, "poller"))

	fmt.Printf("waiting up to %s for the customer to confirm...\n", cfgPoll.Timeout())
	w := p.Watch(id, nil)
	select {
	case <-w.Done():
	case <-ctx.Done():
		w.Cancel()
		<-w.Done()
	}

	res := w.Result()
	fmt.Printf("result: %s (status=%s, attempts=%d)\n", res.State, res.Status, res.Attempts)
	if res.Err != nil {
		fmt.Printf("last error: %v\n", res.Err)
	}
	if res.State != poller.StateSuccess {
		os.Exit(1)
	}
}

func push(ctx context.Context, client *http.Client, opts options, bearer string, body dto.PushRequest) (*dto.PushResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(opts.baseURL, "/")+"/payments/push", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if opts.idempKey != "" {
		req.Header.Set("Idempotency-Key", opts.idempKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Data      *dto.PushResponse `json:"data"`
		ErrorCode string            `json:"error_code"`
		Message   string            `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusAccepted || env.Data == nil {
		return nil, fmt.Errorf("gateway answered %d %s: %s", resp.StatusCode, env.ErrorCode, env.Message)
	}
	return env.Data, nil
}
