package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cellvault/internal/failure"
)

// RemoteResolver asks a GoTrue-compatible auth server for the user behind a
// token (GET <base>/auth/v1/user). Role and edit permission come from
// user_metadata.role and user_metadata.can_edit.
type RemoteResolver struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemote returns a resolver for baseURL. A nil client gets a 10s timeout.
func NewRemote(baseURL, apiKey string, client *http.Client) *RemoteResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteResolver{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type remoteUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (r *RemoteResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Anonymous, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Anonymous, failure.Wrap(failure.KindInternal, err, "build identity request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Anonymous, failure.Wrap(failure.KindUnauthorized, err, "identity provider unreachable")
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return Anonymous, nil
	case resp.StatusCode != http.StatusOK:
		return Anonymous, failure.New(failure.KindUnauthorized, "identity provider returned %d", resp.StatusCode)
	}
	var u remoteUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return Anonymous, failure.Wrap(failure.KindUnauthorized, err, "decode identity response")
	}
	role, _ := u.UserMetadata["role"].(string)
	return normalize(Identity{
		UserID:  u.ID,
		Email:   u.Email,
		Role:    Role(role),
		CanEdit: truthy(u.UserMetadata["can_edit"]),
	}), nil
}

// truthy follows loose metadata conventions: true, non-zero numbers and
// strings like "true"/"1"/"yes".
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
		return strings.EqualFold(t, "yes")
	default:
		return false
	}
}
