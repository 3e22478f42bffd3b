// Package apiclient is the HTTP client of the classroom live API used by the
// client-side session core.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
)

// Client calls the classroom live REST API. Requests carry the caller's
// context and no client side timeout.
type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// New creates a new API client. A nil httpClient uses a default client.
func New(baseURL, accessToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      httpClient,
	}
}

// APIError is a non-2xx response. It unwraps to the domain sentinel matching
// its code so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if base := domain.ErrorFromCode(e.Code); base != nil {
		return base
	}
	if e.Status >= 500 {
		return domain.ErrTransport
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: codeForStatus(resp.StatusCode)}
		}
		return fmt.Errorf("%w: failed to decode response: %v", domain.ErrTransport, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: codeForStatus(resp.StatusCode)}
		if env.Error != nil {
			if env.Error.Code != "" {
				apiErr.Code = env.Error.Code
			}
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		if apiErr.Code == domain.CodeValidation && len(apiErr.Fields) > 0 {
			return &domain.ValidationError{FieldErrors: apiErr.Fields}
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: failed to decode response data: %v", domain.ErrTransport, err)
	}
	return nil
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.CodeValidation
	case http.StatusUnauthorized:
		return domain.CodeUnauthorized
	case http.StatusForbidden:
		return domain.CodePermission
	case http.StatusNotFound:
		return domain.CodeNotFound
	case http.StatusConflict:
		return domain.CodeConflict
	}
	if status >= 500 {
		return domain.CodeTransport
	}
	return domain.CodeInternal
}

func classroomPath(slug string) string {
	return "/classrooms/" + url.PathEscape(slug)
}

func sessionPath(slug string, sessionID uuid.UUID) string {
	return classroomPath(slug) + "/sessions/" + sessionID.String()
}

// ListSessions returns the sessions of a classroom
func (c *Client) ListSessions(ctx context.Context, slug string) ([]domain.LiveSession, error) {
	var sessions []domain.LiveSession
	if err := c.do(ctx, http.MethodGet, classroomPath(slug)+"/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession schedules a session
func (c *Client) CreateSession(ctx context.Context, slug string, input domain.SessionCreate) (*domain.LiveSession, error) {
	var session domain.LiveSession
	if err := c.do(ctx, http.MethodPost, classroomPath(slug)+"/sessions", input, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSession applies a partial update
func (c *Client) UpdateSession(ctx context.Context, slug string, sessionID uuid.UUID, input domain.SessionUpdate) (*domain.LiveSession, error) {
	var session domain.LiveSession
	if err := c.do(ctx, http.MethodPatch, sessionPath(slug, sessionID), input, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession deletes a session. force lets the owner delete a live one.
func (c *Client) DeleteSession(ctx context.Context, slug string, sessionID uuid.UUID, force bool) error {
	path := sessionPath(slug, sessionID)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SyncSessions asks the server to apply every due lifecycle transition
func (c *Client) SyncSessions(ctx context.Context, slug string) (*domain.SyncResult, error) {
	var result domain.SyncResult
	if err := c.do(ctx, http.MethodPost, classroomPath(slug)+"/sessions/sync", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IssueToken requests a room credential
func (c *Client) IssueToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	var cred domain.TokenCredential
	if err := c.do(ctx, http.MethodPost, sessionPath(slug, sessionID)+"/token", req, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// RefreshToken requests a fresh room credential, bypassing the server cache
func (c *Client) RefreshToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	var cred domain.TokenCredential
	if err := c.do(ctx, http.MethodPut, sessionPath(slug, sessionID)+"/token", req, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ListMessages returns a page of the session transcript
func (c *Client) ListMessages(ctx context.Context, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := sessionPath(slug, sessionID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var messages []domain.ChatMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a chat message
func (c *Client) SendMessage(ctx context.Context, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error) {
	var message domain.ChatMessage
	if err := c.do(ctx, http.MethodPost, sessionPath(slug, sessionID)+"/messages", input, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// ListAttachments returns attachments of a classroom, restricted to ids
// when any are given
func (c *Client) ListAttachments(ctx context.Context, slug string, ids []uuid.UUID) ([]domain.Attachment, error) {
	path := classroomPath(slug) + "/attachments"
	if len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = id.String()
		}
		path += "?ids=" + url.QueryEscape(strings.Join(parts, ","))
	}

	var attachments []domain.Attachment
	if err := c.do(ctx, http.MethodGet, path, nil, &attachments); err != nil {
		return nil, err
	}
	return attachments, nil
}

// GetAttachment returns one attachment
func (c *Client) GetAttachment(ctx context.Context, slug string, id uuid.UUID) (*domain.Attachment, error) {
	var attachment domain.Attachment
	if err := c.do(ctx, http.MethodGet, classroomPath(slug)+"/attachments/"+id.String(), nil, &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// UploadAttachment uploads a file as multipart form data
func (c *Client) UploadAttachment(ctx context.Context, slug, fileName string, content io.Reader) (*domain.Attachment, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+classroomPath(slug)+"/attachments", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var attachment domain.Attachment
	if err := c.send(req, &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// FeedURL returns the websocket URL of a session's realtime chat feed
func (c *Client) FeedURL(slug string, sessionID uuid.UUID) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	u := base + sessionPath(slug, sessionID) + "/feed"
	if c.accessToken != "" {
		u += "?access_token=" + url.QueryEscape(c.accessToken)
	}
	return u
}
