// Package collab holds clients for the services the order core calls
// synchronously.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nurulloasawear/megasavdo/internal/apperr"
	"github.com/nurulloasawear/megasavdo/internal/models"
)

// UserDirectory reads users from the identity service over HTTP.
type UserDirectory struct {
	baseURL string
	client  *http.Client
}

func NewUserDirectory(baseURL string, timeout time.Duration) *UserDirectory {
	return &UserDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetUser returns NotFoundError for an unknown id. Every other failure,
// timeouts included, is a CollaboratorError.
func (d *UserDirectory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d", d.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, apperr.Collaborator("users", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound("user", id)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Collaborator("users", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, apperr.Collaborator("users", fmt.Errorf("decode user: %w", err))
	}
	if user.ID != id {
		return nil, apperr.Collaborator("users", fmt.Errorf("asked for user %d, got %d", id, user.ID))
	}

	return &user, nil
}
