package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultStripeAPIBase = "https://api.stripe.com/v1"

// StripeProvider wraps the Stripe PaymentIntents API and webhook verification.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time
}

// StripeOption configures a StripeProvider.
type StripeOption func(*StripeProvider)

// WithBaseURL points the provider at another API root (stripe-mock, tests).
func WithBaseURL(base string) StripeOption {
	return func(s *StripeProvider) {
		if base != "" {
			s.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) StripeOption {
	return func(s *StripeProvider) { s.httpClient = c }
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(secretKey, webhookSecret string, opts ...StripeOption) *StripeProvider {
	s := &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       defaultStripeAPIBase,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PaymentIntent is the subset of a Stripe PaymentIntent the store relies on.
type PaymentIntent struct {
	ID             string            `json:"id"`
	ClientSecret   string            `json:"client_secret"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata"`
}

// APIError is a non-2xx response from Stripe.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreatePaymentIntent creates a PaymentIntent for amountMinor in currency.
// It is not retried here; a failed call leaves no server-side state.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("automatic_payment_methods[enabled]", "true")

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", metadata[k])
	}

	var intent PaymentIntent
	if err := s.do(ctx, http.MethodPost, "/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// RetrievePaymentIntent fetches the current state of a PaymentIntent.
func (s *StripeProvider) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := s.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *StripeProvider) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if s.secretKey == "" {
		return fmt.Errorf("stripe secret key not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var envelope struct {
			Error APIError `json:"error"`
		}
		apiErr := &envelope.Error
		if json.Unmarshal(raw, &envelope) != nil || apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}
