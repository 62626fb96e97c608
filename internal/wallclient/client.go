package wallclient

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
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
)

const (
	defaultTimeout   = 20 * time.Second
	maxResponseBytes = 25 << 20
)

var errMissingBaseURL = errors.New("wallclient: base url is required")

// APIError is a non-2xx response from the wall API.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wallclient: status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("wallclient: status %d: %s", e.Status, e.Detail)
}

// Config describes the dependencies of a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Fallback   *nickname.Generator
	Logger     *zap.Logger
}

// Client talks to the wall API on behalf of an explicit viewer identity.
type Client struct {
	baseURL  string
	http     *http.Client
	fallback *nickname.Generator
	logger   *zap.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = nickname.NewGenerator(nickname.Config{Logger: logger})
	}
	return &Client{baseURL: baseURL, http: httpClient, fallback: fallback, logger: logger}, nil
}

// FetchPage loads one page of the wall.
func (c *Client) FetchPage(ctx context.Context, viewer identity.Identity, page, size int) (signatures.Page, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(size))
	var result signatures.Page
	err := c.doJSON(ctx, viewer, http.MethodGet, "/api/signatures?"+query.Encode(), nil, &result)
	return result, err
}

// GetSignature loads one wall entry.
func (c *Client) GetSignature(ctx context.Context, viewer identity.Identity, id string) (signatures.Signature, error) {
	var result signatures.Signature
	err := c.doJSON(ctx, viewer, http.MethodGet, "/api/signatures/"+url.PathEscape(id), nil, &result)
	return result, err
}

// LikeStatus reports which of ids the viewer liked.
func (c *Client) LikeStatus(ctx context.Context, viewer identity.Identity, ids []string) (map[string]bool, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	var result struct {
		Liked map[string]bool `json:"liked"`
	}
	if err := c.doJSON(ctx, viewer, http.MethodGet, "/api/likes?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result.Liked, nil
}

// SetLike moves the viewer's like on a signature to the desired state.
func (c *Client) SetLike(ctx context.Context, viewer identity.Identity, id string, liked bool) (signatures.LikeResult, error) {
	var result signatures.LikeResult
	err := c.doJSON(ctx, viewer, http.MethodPost, "/api/signatures/"+url.PathEscape(id)+"/like",
		map[string]bool{"liked": liked}, &result)
	return result, err
}

// AddComment posts a comment under the given nickname.
func (c *Client) AddComment(ctx context.Context, viewer identity.Identity, id, username, message string) (signatures.Comment, error) {
	var result signatures.Comment
	err := c.doJSON(ctx, viewer, http.MethodPost, "/api/signatures/"+url.PathEscape(id)+"/comments",
		map[string]string{"username": username, "message": message}, &result)
	return result, err
}

// ListComments loads the comments of a signature, oldest first.
func (c *Client) ListComments(ctx context.Context, id string) ([]signatures.Comment, error) {
	var result struct {
		Comments []signatures.Comment `json:"comments"`
	}
	if err := c.doJSON(ctx, identity.Identity{}, http.MethodGet, "/api/signatures/"+url.PathEscape(id)+"/comments", nil, &result); err != nil {
		return nil, err
	}
	return result.Comments, nil
}

// UpdateReplyCount overwrites the cosmetic reply counter.
func (c *Client) UpdateReplyCount(ctx context.Context, id string, count int) error {
	return c.doJSON(ctx, identity.Identity{}, http.MethodPatch, "/api/signatures/"+url.PathEscape(id)+"/reply",
		map[string]int{"reply": count}, nil)
}

// GenerateName asks the server for a nickname.
func (c *Client) GenerateName(ctx context.Context) (nickname.Name, error) {
	var result nickname.Name
	err := c.doJSON(ctx, identity.Identity{}, http.MethodGet, "/api/name-generator", nil, &result)
	return result, err
}

// Generate returns a server nickname, or a local pool name when the server is unreachable.
func (c *Client) Generate(ctx context.Context) nickname.Name {
	name, err := c.GenerateName(ctx)
	if err == nil && strings.TrimSpace(name.Value) != "" {
		return name
	}
	c.logger.Warn("nickname request failed; using local pool", zap.Error(err))
	return c.fallback.Generate(ctx)
}

// FetchImage loads an image through the API's proxy.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	query := url.Values{}
	query.Set("url", imageURL)
	request, err := c.newRequest(ctx, identity.Identity{}, http.MethodGet, "/api/proxy-image?"+query.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	return c.doRaw(request)
}

// ShareCard downloads the server-rendered share-card PNG.
func (c *Client) ShareCard(ctx context.Context, viewer identity.Identity, id string) ([]byte, error) {
	request, err := c.newRequest(ctx, viewer, http.MethodGet, "/api/signatures/"+url.PathEscape(id)+"/share-card", nil, "")
	if err != nil {
		return nil, err
	}
	return c.doRaw(request)
}

// Submit posts a drawing with optional background for server-side composition.
func (c *Client) Submit(ctx context.Context, viewer identity.Identity, message string, drawing compositor.Drawing, background []byte) (signatures.Signature, error) {
	encodedDrawing, err := json.Marshal(drawing)
	if err != nil {
		return signatures.Signature{}, err
	}
	authorName := strings.TrimSpace(viewer.Username)
	if authorName == "" {
		authorName = c.Generate(ctx).Value
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("message", message); err != nil {
		return signatures.Signature{}, err
	}
	if err := writer.WriteField("author_name", authorName); err != nil {
		return signatures.Signature{}, err
	}
	if err := writer.WriteField("drawing", string(encodedDrawing)); err != nil {
		return signatures.Signature{}, err
	}
	if len(background) > 0 {
		part, err := writer.CreateFormFile("background", "background")
		if err != nil {
			return signatures.Signature{}, err
		}
		if _, err := part.Write(background); err != nil {
			return signatures.Signature{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return signatures.Signature{}, err
	}

	request, err := c.newRequest(ctx, viewer, http.MethodPost, "/api/submissions", &body, writer.FormDataContentType())
	if err != nil {
		return signatures.Signature{}, err
	}
	raw, err := c.doRaw(request)
	if err != nil {
		return signatures.Signature{}, err
	}
	var result signatures.Signature
	if err := json.Unmarshal(raw, &result); err != nil {
		return signatures.Signature{}, fmt.Errorf("wallclient: decode submission: %w", err)
	}
	return result, nil
}

func (c *Client) doJSON(ctx context.Context, viewer identity.Identity, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	request, err := c.newRequest(ctx, viewer, method, path, body, contentType)
	if err != nil {
		return err
	}
	raw, err := c.doRaw(request)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wallclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, viewer identity.Identity, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if !viewer.IsZero() {
		request.AddCookie(&http.Cookie{Name: identity.CookieUserID, Value: url.QueryEscape(viewer.UserID)})
	}
	if viewer.HasUsername() {
		request.AddCookie(&http.Cookie{Name: identity.CookieUsername, Value: url.QueryEscape(viewer.Username)})
	}
	return request, nil
}

func (c *Client) doRaw(request *http.Request) ([]byte, error) {
	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("wallclient: %s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("wallclient: read %s: %w", request.URL.Path, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{Status: response.StatusCode}
		var decoded struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &decoded) == nil {
			apiErr.Code = decoded.Code
			apiErr.Detail = decoded.Error
		}
		if apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}
	return raw, nil
}
