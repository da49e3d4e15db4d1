package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientHighThreadMode(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{HighThreadMode: true})
	transport, ok := client.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.DialContext, "high thread mode installs the tuned dialer")
}

func TestNewHTTPClientDefaultDialer(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})
	transport, ok := client.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Nil(t, transport.DialContext)
}

func TestHTTPClientAppliesHeaders(t *testing.T) {
	var gotAgent, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	client := NewHTTPClient(HTTPClientConfig{UserAgent: "custom/2.0"})
	client.SetHeader("Authorization", "Bearer token")

	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "custom/2.0", gotAgent)
	assert.Equal(t, "Bearer token", gotAuth)
}
