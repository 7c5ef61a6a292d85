package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrelay/pkg/errors"
	"igrelay/pkg/logger"
	"igrelay/pkg/models"
	"igrelay/pkg/ratelimit"
)

// newTestClient returns a client pointed at server
func newTestClient(server *httptest.Server, limiter ratelimit.Limiter) *Client {
	client := NewClient(5*time.Second, limiter, logger.NewTestLogger())
	client.baseURL = server.URL
	return client
}

func sidecarResponse() PostResponse {
	media := &ShortcodeMedia{
		Typename:  TypeSidecar,
		Shortcode: "Cxyz123",
		Owner:     Owner{ID: "1", Username: "natgeo"},
		EdgeSidecarToChildren: &EdgeSidecarToChildren{Edges: []SidecarEdge{
			{Node: SidecarNode{Typename: TypeImage, DisplayURL: "https://cdn.example/1.jpg"}},
			{Node: SidecarNode{Typename: TypeVideo, IsVideo: true, DisplayURL: "https://cdn.example/2.jpg", VideoURL: "https://cdn.example/2.mp4"}},
		}},
	}
	media.EdgeMediaToCaption.Edges = []CaptionEdge{{}}
	media.EdgeMediaToCaption.Edges[0].Node.Text = "Into the wild"

	return PostResponse{Data: PostData{ShortcodeMedia: media}, Status: "ok"}
}

func TestNewClient(t *testing.T) {
	log := logger.NewTestLogger()
	client := NewClient(30*time.Second, nil, log)

	assert.NotNil(t, client.httpClient)
	assert.Equal(t, BaseURL, client.baseURL)
	assert.Equal(t, log, client.logger)
	assert.Equal(t, AppID, client.headers["X-IG-App-ID"])
}

func TestSetSession(t *testing.T) {
	client := NewClient(30*time.Second, nil, logger.NewTestLogger())

	client.SetSession("sess", "csrf", "custom-agent")

	assert.Equal(t, "sessionid=sess; csrftoken=csrf", client.headers["Cookie"])
	assert.Equal(t, "csrf", client.headers["X-CSRFToken"])
	assert.Equal(t, "custom-agent", client.headers["User-Agent"])

	t.Run("empty user agent keeps default", func(t *testing.T) {
		anon := NewClient(30*time.Second, nil, logger.NewTestLogger())
		anon.SetSession("", "", "")
		assert.Equal(t, DefaultUserAgent, anon.headers["User-Agent"])
		assert.NotContains(t, anon.headers, "Cookie")
	})
}

func TestCheckResponseStatus(t *testing.T) {
	client := NewClient(30*time.Second, nil, logger.NewTestLogger())

	tests := []struct {
		name         string
		statusCode   int
		expectedType errors.ErrorType
	}{
		{name: "200 OK", statusCode: http.StatusOK},
		{name: "401 Unauthorized", statusCode: http.StatusUnauthorized, expectedType: errors.ErrorTypeAuth},
		{name: "403 Forbidden", statusCode: http.StatusForbidden, expectedType: errors.ErrorTypeAuth},
		{name: "404 Not Found", statusCode: http.StatusNotFound, expectedType: errors.ErrorTypeNotFound},
		{name: "429 Too Many Requests", statusCode: http.StatusTooManyRequests, expectedType: errors.ErrorTypeRateLimit},
		{name: "500 Internal Server Error", statusCode: http.StatusInternalServerError, expectedType: errors.ErrorTypeServerError},
		{name: "503 Service Unavailable", statusCode: http.StatusServiceUnavailable, expectedType: errors.ErrorTypeServerError},
		{name: "400 Bad Request", statusCode: http.StatusBadRequest, expectedType: errors.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			err := client.checkResponseStatus(&http.Response{StatusCode: tt.statusCode, Request: req})

			if tt.expectedType == "" {
				assert.NoError(t, err)
				return
			}

			var igErr *errors.Error
			require.ErrorAs(t, err, &igErr)
			assert.Equal(t, tt.expectedType, igErr.Type)
			assert.Equal(t, tt.statusCode, igErr.Code)
		})
	}
}

func TestResolve(t *testing.T) {
	t.Run("carousel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, GraphQLEndpoint, r.URL.Path)
			assert.Equal(t, PostQueryHash, r.URL.Query().Get("query_hash"))
			assert.JSONEq(t, `{"shortcode":"Cxyz123"}`, r.URL.Query().Get("variables"))
			assert.Equal(t, "sessionid=sess; csrftoken=csrf", r.Header.Get("Cookie"))
			_ = json.NewEncoder(w).Encode(sidecarResponse())
		}))
		defer server.Close()

		client := newTestClient(server, nil)
		client.SetSession("sess", "csrf", "")

		post, err := client.Resolve(context.Background(), "Cxyz123")
		require.NoError(t, err)

		assert.Equal(t, "natgeo", post.Owner)
		assert.Equal(t, "Into the wild", post.Caption)
		assert.Equal(t, []models.MediaItem{
			{Kind: models.MediaPhoto, URL: "https://cdn.example/1.jpg"},
			{Kind: models.MediaVideo, URL: "https://cdn.example/2.mp4"},
		}, post.Items)
	})

	t.Run("private post", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"requires_to_login": true}`))
		}))
		defer server.Close()

		_, err := newTestClient(server, nil).Resolve(context.Background(), "abc")
		assert.True(t, errors.Is(err, errors.ErrorTypeAuth))
	})

	t.Run("missing post", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": {"shortcode_media": null}, "status": "ok"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server, nil).Resolve(context.Background(), "abc")
		assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>login</html>`))
		}))
		defer server.Close()

		_, err := newTestClient(server, nil).Resolve(context.Background(), "abc")
		assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
	})

	t.Run("empty shortcode", func(t *testing.T) {
		client := NewClient(time.Second, nil, logger.NewTestLogger())
		_, err := client.Resolve(context.Background(), "")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidInput))
	})

	t.Run("rate limiter cancelled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("request should not be sent")
		}))
		defer server.Close()

		bucket := ratelimit.NewTokenBucket(1, time.Hour)
		require.True(t, bucket.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(server, bucket).Resolve(ctx, "abc")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDownload(t *testing.T) {
	payload := strings.Repeat("x", 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client := newTestClient(server, nil)

	t.Run("within limit", func(t *testing.T) {
		data, err := client.Download(context.Background(), server.URL+"/a.jpg", 64)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("unlimited", func(t *testing.T) {
		data, err := client.Download(context.Background(), server.URL+"/a.jpg", 0)
		require.NoError(t, err)
		assert.Len(t, data, 64)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := client.Download(context.Background(), server.URL+"/a.jpg", 10)
		assert.True(t, errors.Is(err, errors.ErrorTypeTooLarge))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := client.Download(context.Background(), server.URL+"/missing.jpg", 0)
		assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
	})
}

func TestToPost(t *testing.T) {
	t.Run("single video", func(t *testing.T) {
		media := &ShortcodeMedia{Typename: TypeVideo, Shortcode: "v1", IsVideo: true, VideoURL: "https://cdn.example/v.mp4"}
		post, err := media.ToPost()
		require.NoError(t, err)
		assert.Equal(t, []models.MediaItem{{Kind: models.MediaVideo, URL: "https://cdn.example/v.mp4"}}, post.Items)
		assert.Empty(t, post.Caption)
	})

	t.Run("single image", func(t *testing.T) {
		media := &ShortcodeMedia{Typename: TypeImage, Shortcode: "i1", DisplayURL: "https://cdn.example/i.jpg"}
		post, err := media.ToPost()
		require.NoError(t, err)
		assert.Equal(t, models.MediaPhoto, post.Items[0].Kind)
	})

	t.Run("video without url", func(t *testing.T) {
		media := &ShortcodeMedia{Typename: TypeVideo, Shortcode: "v2", IsVideo: true, DisplayURL: "https://cdn.example/thumb.jpg"}
		_, err := media.ToPost()
		assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
	})

	t.Run("empty carousel", func(t *testing.T) {
		media := &ShortcodeMedia{Typename: TypeSidecar, Shortcode: "s1", EdgeSidecarToChildren: &EdgeSidecarToChildren{}}
		_, err := media.ToPost()
		assert.True(t, errors.Is(err, errors.ErrorTypeParsing))
	})
}
