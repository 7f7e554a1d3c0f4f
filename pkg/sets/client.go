// Package sets talks to the user-sets service and substitutes saved selection
// references found in filter trees.
package sets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSelectionNotFound means a referenced selection does not exist or is not
// visible to the requester.
var ErrSelectionNotFound = errors.New("saved selection not found")

// APIError carries a non-success response of the user-sets service.
type APIError struct {
	Status  int
	Details string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("users-api returns status %d", e.Status)
}

// Is lets errors.Is(err, ErrSelectionNotFound) match 403/404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrSelectionNotFound && (e.Status == http.StatusNotFound || e.Status == http.StatusForbidden)
}

type SetContent struct {
	IDs     []string        `json:"ids"`
	IDField string          `json:"idField,omitempty"`
	Sqon    json.RawMessage `json:"sqon,omitempty"`
	Sort    json.RawMessage `json:"sort,omitempty"`
	SetType string          `json:"setType,omitempty"`
}

type SavedSet struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId,omitempty"`
	Alias          string     `json:"alias,omitempty"`
	SharedPublicly bool       `json:"sharedPublicly"`
	Content        SetContent `json:"content"`
}

// Client reads saved selections on behalf of the caller identified by
// accessToken.
type Client interface {
	UserSets(ctx context.Context, accessToken string) ([]SavedSet, error)
	SharedSet(ctx context.Context, accessToken, id string) (*SavedSet, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) UserSets(ctx context.Context, accessToken string) ([]SavedSet, error) {
	var out []SavedSet
	if err := c.get(ctx, accessToken, c.baseURL+"/user-sets", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) SharedSet(ctx context.Context, accessToken, id string) (*SavedSet, error) {
	var out SavedSet
	if err := c.get(ctx, accessToken, c.baseURL+"/user-sets/shared/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(ctx context.Context, accessToken, uri string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("users-api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("users-api read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Details: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("users-api decode body: %w", err)
	}
	return nil
}
