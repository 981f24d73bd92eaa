package accountprovider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Amund211/wpaccount/internal/constants"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/domaintest"
	"github.com/stretchr/testify/require"
)

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

type mockedHttpClient struct {
	t         *testing.T
	responses []mockResponse

	mu       sync.Mutex
	requests []*http.Request
}

func (m *mockedHttpClient) Do(req *http.Request) (*http.Response, error) {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	require.Less(m.t, len(m.requests), len(m.responses), "unexpected request")
	response := m.responses[len(m.requests)]
	m.requests = append(m.requests, req)

	if response.err != nil {
		return nil, response.err
	}

	return &http.Response{
		StatusCode: response.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(response.body)),
	}, nil
}

func immediateAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestWordPressCom(t *testing.T, client HttpClient) *WordPressCom {
	t.Helper()
	provider, err := NewWordPressCom(client, "https://api.example.com/rest/v1.1", time.Now, immediateAfter)
	require.NoError(t, err)
	return provider
}

func TestWordPressCom(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		token := domaintest.NewToken(t)
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 200, body: realMeResponse},
			},
		}
		provider := newTestWordPressCom(t, client)

		details, err := provider.GetUserDetails(t.Context(), token)
		require.NoError(t, err)
		require.Equal(t, int64(12345678), details.UserID)
		require.Equal(t, "janedoe", details.Username)
		require.WithinDuration(t, time.Now(), details.QueriedAt, time.Minute)

		require.Len(t, client.requests, 1)
		req := client.requests[0]
		require.Equal(t, http.MethodGet, req.Method)
		require.Equal(t, "https://api.example.com/rest/v1.1/me", req.URL.String())
		require.Equal(t, "Bearer "+token, req.Header.Get("Authorization"))
		require.Equal(t, constants.USER_AGENT, req.Header.Get("User-Agent"))
		require.Equal(t, "application/json", req.Header.Get("Accept"))
	})

	t.Run("default base url", func(t *testing.T) {
		t.Parallel()
		provider, err := NewWordPressCom(&mockedHttpClient{t: t}, "", time.Now, immediateAfter)
		require.NoError(t, err)
		require.Equal(t, constants.DEFAULT_WPCOM_API_BASE_URL, provider.baseURL)
	})

	t.Run("missing token makes no request", func(t *testing.T) {
		t.Parallel()
		client := &mockedHttpClient{t: t}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), "")
		require.ErrorIs(t, err, domain.ErrMissingToken)
		require.Empty(t, client.requests)
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		t.Parallel()
		token := domaintest.NewToken(t)
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 400, body: `{"error":"invalid_token","message":"The OAuth2 token is invalid."}`},
			},
		}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), token)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		require.NotContains(t, err.Error(), token)
		require.Len(t, client.requests, 1)
	})

	t.Run("malformed response is not retried", func(t *testing.T) {
		t.Parallel()
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 200, body: `{"ID":42}`},
			},
		}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), domaintest.NewToken(t))
		require.ErrorIs(t, err, domain.ErrMalformedResponse)
		require.Len(t, client.requests, 1)
	})

	t.Run("temporary failures are retried", func(t *testing.T) {
		t.Parallel()
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 503, body: ``},
				{err: errors.New("connection reset by peer")},
				{statusCode: 200, body: realMeResponse},
			},
		}
		provider := newTestWordPressCom(t, client)

		details, err := provider.GetUserDetails(t.Context(), domaintest.NewToken(t))
		require.NoError(t, err)
		require.Equal(t, "janedoe", details.Username)
		require.Len(t, client.requests, 3)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		t.Parallel()
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 429, body: ``},
				{statusCode: 502, body: ``},
				{statusCode: 504, body: ``},
			},
		}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), domaintest.NewToken(t))
		require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
		require.Len(t, client.requests, 1+defaultMaxRetries)
	})

	t.Run("network error", func(t *testing.T) {
		t.Parallel()
		token := domaintest.NewToken(t)
		responses := make([]mockResponse, 1+defaultMaxRetries)
		for i := range responses {
			responses[i] = mockResponse{err: errors.New("dial tcp: lookup api.example.com: no such host")}
		}
		client := &mockedHttpClient{t: t, responses: responses}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), token)
		require.ErrorIs(t, err, domain.ErrNetwork)
		require.False(t, strings.Contains(err.Error(), token))
	})

	t.Run("no retry after cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 500, body: ``},
			},
		}
		provider, err := NewWordPressCom(client, "https://api.example.com", time.Now, func(time.Duration) <-chan time.Time {
			cancel()
			return make(chan time.Time)
		})
		require.NoError(t, err)

		_, err = provider.GetUserDetails(ctx, domaintest.NewToken(t))
		require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)
		require.Len(t, client.requests, 1)
	})

	t.Run("unexpected status", func(t *testing.T) {
		t.Parallel()
		client := &mockedHttpClient{
			t: t,
			responses: []mockResponse{
				{statusCode: 404, body: `{"error":"unknown_endpoint"}`},
			},
		}
		provider := newTestWordPressCom(t, client)

		_, err := provider.GetUserDetails(t.Context(), domaintest.NewToken(t))
		require.ErrorIs(t, err, domain.ErrUnexpectedStatus)
		require.Len(t, client.requests, 1)
	})
}
