package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SubjectDirectoryClient resolves subject entities (vendors, contracts)
// against the service that owns them. The engine only needs existence
// checks; everything else about the subject stays opaque.
type SubjectDirectoryClient struct {
	baseURL string
	http    *http.Client
}

// NewSubjectDirectoryClient creates a client for the subject-owning service.
func NewSubjectDirectoryClient(baseURL string, timeout time.Duration) *SubjectDirectoryClient {
	return &SubjectDirectoryClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// Exists reports whether the subject exists within the organization.
func (c *SubjectDirectoryClient) Exists(ctx context.Context, subjectID, orgID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/subjects/exists?id=%s&organization_id=%s",
		c.baseURL, url.QueryEscape(subjectID), url.QueryEscape(orgID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build subject lookup request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("subject lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("subject lookup returned status %d", resp.StatusCode)
	}

	var body existsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode subject lookup response: %w", err)
	}
	return body.Exists, nil
}
