// Package gateway wraps the billing provider's REST API. The core treats
// these as opaque, fallible remote calls; all subscription state of
// record lives in our own datastore, driven by the provider's webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Subscription is the provider-side subscription reference.
type Subscription struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	ShortURL   string `json:"short_url,omitempty"`
}

// Customer is the provider-side customer reference.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Gateway is the set of remote billing operations the core issues.
type Gateway interface {
	CreateCustomer(ctx context.Context, userRef, email string) (*Customer, error)
	CreateSubscription(ctx context.Context, planID, customerID string, totalCycles int) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) error
	PauseSubscription(ctx context.Context, subscriptionID string) error
	ResumeSubscription(ctx context.Context, subscriptionID string) error
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// NewClient creates a gateway client with basic-auth credentials.
func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCustomer registers a customer with the provider.
func (c *Client) CreateCustomer(ctx context.Context, userRef, email string) (*Customer, error) {
	body := map[string]interface{}{
		"name":  userRef,
		"email": email,
		"notes": map[string]string{"user_ref": userRef},
	}

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", body, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateSubscription creates a recurring subscription on a plan.
func (c *Client) CreateSubscription(ctx context.Context, planID, customerID string, totalCycles int) (*Subscription, error) {
	body := map[string]interface{}{
		"plan_id":         planID,
		"customer_id":     customerID,
		"total_count":     totalCycles,
		"customer_notify": 1,
	}

	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription, optionally at cycle end.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) error {
	cancelAt := 0
	if atCycleEnd {
		cancelAt = 1
	}
	body := map[string]interface{}{"cancel_at_cycle_end": cancelAt}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/cancel", body, nil)
}

// PauseSubscription pauses billing on a subscription.
func (c *Client) PauseSubscription(ctx context.Context, subscriptionID string) error {
	body := map[string]interface{}{"pause_at": "now"}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/pause", body, nil)
}

// ResumeSubscription resumes billing on a paused subscription.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	body := map[string]interface{}{"resume_at": "now"}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subscriptionID+"/resume", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d for %s %s: %s", resp.StatusCode, method, path, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

// Noop is a Gateway that performs no remote calls. Used in development
// and in tests.
type Noop struct{}

// CreateCustomer returns a synthetic customer reference.
func (Noop) CreateCustomer(ctx context.Context, userRef, email string) (*Customer, error) {
	return &Customer{ID: "cust_" + userRef, Email: email}, nil
}

// CreateSubscription returns a synthetic subscription reference.
func (Noop) CreateSubscription(ctx context.Context, planID, customerID string, totalCycles int) (*Subscription, error) {
	return &Subscription{ID: "sub_" + customerID, PlanID: planID, CustomerID: customerID, Status: "created"}, nil
}

// CancelSubscription does nothing.
func (Noop) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) error {
	return nil
}

// PauseSubscription does nothing.
func (Noop) PauseSubscription(ctx context.Context, subscriptionID string) error { return nil }

// ResumeSubscription does nothing.
func (Noop) ResumeSubscription(ctx context.Context, subscriptionID string) error { return nil }
