package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

var (
	ErrProfileNotFound = errors.New("customer profile not found")
	ErrDisplayNameTaken = errors.New("display name already taken")
)

// ProfileClient talks to the external customer-profile service. It is
// consumed only for display-name reservation and release; email never
// crosses this boundary in either direction.
type ProfileClient struct {
	baseURL string
	http    *http.Client
}

// CustomerProfile is the collaborator's public view of a customer.
type CustomerProfile struct {
	CustomerID  string `json:"customerId"`
	DisplayName string `json:"displayName"`
}

func NewProfileClient(cfg *config.Config) *ProfileClient {
	return &ProfileClient{
		baseURL: cfg.Profile.BaseURL,
		http:    &http.Client{Timeout: cfg.Profile.Timeout},
	}
}

// GetCustomer fetches the profile view for one customer.
func (c *ProfileClient) GetCustomer(ctx context.Context, customerID string) (*CustomerProfile, error) {
	endpoint := fmt.Sprintf("%s/customer/%s", c.baseURL, url.PathEscape(customerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrProfileNotFound
	default:
		return nil, fmt.Errorf("profile service returned %d", resp.StatusCode)
	}

	var profile CustomerProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	return &profile, nil
}

// ReserveDisplayName registers a display name for the customer. A 409
// from the collaborator surfaces as ErrDisplayNameTaken.
func (c *ProfileClient) ReserveDisplayName(ctx context.Context, customerID, displayName string) error {
	body, err := json.Marshal(map[string]string{"displayName": displayName})
	if err != nil {
		return fmt.Errorf("failed to marshal display name: %w", err)
	}

	endpoint := fmt.Sprintf("%s/customer/%s/display-name", c.baseURL, url.PathEscape(customerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build display-name request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return ErrDisplayNameTaken
	default:
		util.Warn("Unexpected profile service status",
			zap.Int("status", resp.StatusCode),
			zap.String("customer_id", customerID))
		return fmt.Errorf("profile service returned %d", resp.StatusCode)
	}
}
