package poller

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/de-ibh/b3lb/pkg/models"
)

func TestFetchLoadParsesFirstLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/b3lb/load", r.URL.Path)
		_, _ = w.Write([]byte("4321\nignored trailer\n"))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	p := New(nil, Config{Protocol: "http", LoadEndpoint: "/b3lb/load", RequestTimeout: srv.Client().Timeout})

	load, err := p.fetchLoad(t.Context(), models.Node{Domain: host})
	require.NoError(t, err)
	assert.Equal(t, 4321, load)
}

func TestFetchLoadRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	p := New(nil, Config{Protocol: "http", LoadEndpoint: "/b3lb/load"})

	_, err := p.fetchLoad(t.Context(), models.Node{Domain: host})
	assert.Error(t, err)
}
