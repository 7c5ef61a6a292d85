package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	errs "igrelay/pkg/errors"
	"igrelay/pkg/logger"
	"igrelay/pkg/models"
	"igrelay/pkg/ratelimit"
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Client represents an Instagram API client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	headersMu  sync.RWMutex
	baseURL    string
	limiter    ratelimit.Limiter
	logger     logger.Logger
}

// NewClient creates a new Instagram API client. API calls wait on limiter
// when it is non-nil; media downloads are not throttled.
func NewClient(timeout time.Duration, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"User-Agent":       DefaultUserAgent,
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"X-IG-App-ID":      AppID,
			"X-Requested-With": "XMLHttpRequest",
		},
		baseURL: BaseURL,
		limiter: limiter,
		logger:  log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headersMu.Lock()
	defer c.headersMu.Unlock()
	c.headers[key] = value
}

// SetSession authenticates API calls with a logged-in web session
func (c *Client) SetSession(sessionID, csrfToken, userAgent string) {
	if sessionID != "" {
		c.SetHeader("Cookie", fmt.Sprintf("sessionid=%s; csrftoken=%s", sessionID, csrfToken))
		c.SetHeader("X-CSRFToken", csrfToken)
	}
	if userAgent != "" {
		c.SetHeader("User-Agent", userAgent)
	}
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	c.headersMu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.headersMu.RUnlock()

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "failed to create request: %v", err)
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, err
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// getJSON performs a throttled GET request and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}

		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// checkResponseStatus maps HTTP status codes to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
	}

	var errorType errs.ErrorType
	var message string
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		errorType, message = errs.ErrorTypeAuth, "authentication required"
	case resp.StatusCode == http.StatusNotFound:
		errorType, message = errs.ErrorTypeNotFound, "resource not found"
	case resp.StatusCode == http.StatusTooManyRequests:
		errorType, message = errs.ErrorTypeRateLimit, "rate limit exceeded"
	case resp.StatusCode >= 500:
		errorType, message = errs.ErrorTypeServerError, "server error"
	default:
		errorType, message = errs.ErrorTypeUnknown, fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}

	if errorType == errs.ErrorTypeServerError || errorType == errs.ErrorTypeUnknown {
		c.logger.ErrorWithFields(message, fields)
	} else {
		c.logger.WarnWithFields(message, fields)
	}

	return &errs.Error{Type: errorType, Message: message, Code: resp.StatusCode}
}

// Resolve fetches a post by shortcode and returns its owner, caption and media
func (c *Client) Resolve(ctx context.Context, shortcode string) (*models.Post, error) {
	if shortcode == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, "shortcode is required")
	}

	log := c.logger.WithField("shortcode", shortcode)
	log.Debug("resolving post")

	var response PostResponse
	if err := c.getJSON(ctx, buildPostQueryURL(c.baseURL, shortcode), &response); err != nil {
		log.WithError(err).Warn("failed to resolve post")
		return nil, err
	}

	if response.RequiresToLogin {
		log.Warn("authentication required for post")
		return nil, &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "Instagram requires authentication to view this post",
			Code:    http.StatusUnauthorized,
		}
	}

	if response.Data.ShortcodeMedia == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, "post %s not found or private", shortcode)
	}

	post, err := response.Data.ShortcodeMedia.ToPost()
	if err != nil {
		return nil, err
	}
	if post.Shortcode == "" {
		post.Shortcode = shortcode
	}

	log.DebugWithFields("resolved post", map[string]interface{}{
		"owner": post.Owner,
		"items": len(post.Items),
	})

	return post, nil
}

// Download fetches a media asset. A positive maxBytes caps the accepted size.
func (c *Client) Download(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, error) {
	resp, err := c.get(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTooLarge,
			Message: fmt.Sprintf("media is %d bytes, limit is %d", resp.ContentLength, maxBytes),
			Code:    resp.StatusCode,
		}
	}

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to download media: %v", err),
		}
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeTooLarge,
			Message: fmt.Sprintf("media exceeds %d bytes", maxBytes),
			Code:    resp.StatusCode,
		}
	}

	c.logger.DebugWithFields("downloaded media", map[string]interface{}{
		"url":  mediaURL,
		"size": len(data),
	})

	return data, nil
}
