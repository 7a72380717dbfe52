/**
 * @description
 * This package provides a client for the managed phone-identity provider.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * provider's verification endpoints and fans out auth-state change
 * notifications to local subscribers.
 *
 * Key features:
 * - Manages the API base URL and secret key.
 * - Requesting and confirming one-time codes bound to a bot-check token.
 * - Auth-state subscription: fires on sign-in, sign-out, and token refresh.
 *
 * @dependencies
 * - bytes, context, encoding/json, io, net/http, sync, time: Standard Go libraries.
 * - The service's internal domain package for the Identity model.
 */
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/down/down-service/internal/domain"
)

// ConfirmationHandle is the opaque, single-use token binding a sent
// verification code to its eventual confirmation call.
type ConfirmationHandle string

// AuthStateCallback receives the current identity on every auth-state change.
// identity is nil after a sign-out.
type AuthStateCallback func(identity *domain.Identity)

// Unsubscribe removes a previously registered auth-state callback.
type Unsubscribe func()

// Client is a client for the identity provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu          sync.Mutex
	nextSub     int
	subscribers map[int]AuthStateCallback
}

// NewClient creates a new identity provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		subscribers: make(map[int]AuthStateCallback),
	}
}

type requestCodeRequest struct {
	PhoneNumber   string `json:"phone_number"`
	BotCheckToken string `json:"bot_check_token"`
}

type requestCodeResponse struct {
	Handle string `json:"handle"`
}

// RequestCode asks the provider to send a one-time code to the given phone
// number. The bot-check token proves the request came from a real client.
// Requesting a code twice for the same number invalidates the previous
// handle on the provider side; callers must keep only the returned one.
func (c *Client) RequestCode(ctx context.Context, phoneNumber, botCheckToken string) (ConfirmationHandle, error) {
	var resp requestCodeResponse
	url := fmt.Sprintf("%s/v1/verification/code", c.baseURL)
	err := c.do(ctx, http.MethodPost, url, requestCodeRequest{
		PhoneNumber:   phoneNumber,
		BotCheckToken: botCheckToken,
	}, &resp)
	if err != nil {
		return "", err
	}
	return ConfirmationHandle(resp.Handle), nil
}

type confirmCodeRequest struct {
	Handle string `json:"handle"`
	Code   string `json:"code"`
}

// ConfirmCode submits a code against its confirmation handle. On success the
// provider returns the verified identity with a fresh session token, and all
// auth-state subscribers are notified of the sign-in.
func (c *Client) ConfirmCode(ctx context.Context, handle ConfirmationHandle, code string) (*domain.Identity, error) {
	var identity domain.Identity
	url := fmt.Sprintf("%s/v1/verification/confirm", c.baseURL)
	err := c.do(ctx, http.MethodPost, url, confirmCodeRequest{
		Handle: string(handle),
		Code:   code,
	}, &identity)
	if err != nil {
		return nil, err
	}
	c.notify(&identity)
	return &identity, nil
}

// SignOut revokes the given session token and notifies subscribers.
func (c *Client) SignOut(ctx context.Context, sessionToken string) error {
	url := fmt.Sprintf("%s/v1/sessions/revoke", c.baseURL)
	err := c.do(ctx, http.MethodPost, url, map[string]string{"session_token": sessionToken}, nil)
	if err != nil {
		return err
	}
	c.notify(nil)
	return nil
}

// RefreshSession exchanges a session token for a fresh one. Subscribers are
// notified with the refreshed identity, mirroring the provider SDK's
// behavior of firing the auth-state callback on token refresh.
func (c *Client) RefreshSession(ctx context.Context, sessionToken string) (*domain.Identity, error) {
	var identity domain.Identity
	url := fmt.Sprintf("%s/v1/sessions/refresh", c.baseURL)
	err := c.do(ctx, http.MethodPost, url, map[string]string{"session_token": sessionToken}, &identity)
	if err != nil {
		return nil, err
	}
	c.notify(&identity)
	return &identity, nil
}

// SubscribeAuthState registers a callback fired on sign-in, sign-out, and
// token refresh. The returned Unsubscribe removes it; it is safe to call
// more than once.
func (c *Client) SubscribeAuthState(cb AuthStateCallback) Unsubscribe {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Client) notify(identity *domain.Identity) {
	c.mu.Lock()
	callbacks := make([]AuthStateCallback, 0, len(c.subscribers))
	for _, cb := range c.subscribers {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		cb(identity)
	}
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do is a helper function to make HTTP requests to the identity provider API.
func (c *Client) do(ctx context.Context, method, url string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-identity-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiError
		if jsonErr := json.Unmarshal(respBody, &envelope); jsonErr == nil {
			switch envelope.Error.Code {
			case "code_rejected", "code_expired":
				return fmt.Errorf("%w: %s", domain.ErrCodeRejected, envelope.Error.Message)
			case "handle_consumed", "handle_invalidated":
				return fmt.Errorf("%w: %s", domain.ErrHandleConsumed, envelope.Error.Message)
			}
		}
		log.Printf("Identity API returned non-success status code %d: %s", resp.StatusCode, string(respBody))
		return fmt.Errorf("identity API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}

	return nil
}
