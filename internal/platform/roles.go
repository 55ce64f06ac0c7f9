package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 10 * time.Second

// RolesClient asks the bot process for a user's current role memberships.
// The bot fronts the chat platform; the engine never holds platform
// credentials.
type RolesClient struct {
	endpoint string
	client   *http.Client
}

func NewRolesClient(endpoint string) *RolesClient {
	return &RolesClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

type rolesResponse struct {
	RoleIDs []string `json:"role_ids"`
}

func (c *RolesClient) GetRoleIDs(ctx context.Context, userID string) ([]string, error) {
	u := fmt.Sprintf("%s?user_id=%s", c.endpoint, url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build roles request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// unknown user holds no roles
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roles endpoint returned status %d", resp.StatusCode)
	}

	var decoded rolesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode roles response: %w", err)
	}
	return decoded.RoleIDs, nil
}
