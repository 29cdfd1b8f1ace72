package resilience_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/resilience"
)

func TestHealth_TracksOutcomes(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	health := resilience.NewHealth()
	cfgA := fastConfig("origin-a")
	cfgA.Health = health
	cfgB := fastConfig("origin-b")
	cfgB.Health = health
	a := resilience.NewClient(cfgA)
	b := resilience.NewClient(cfgB)

	resp, err := head(t, a, ok.URL)
	require.NoError(t, err)
	resp.Body.Close()
	resp, err = head(t, b, down.URL)
	require.NoError(t, err)
	resp.Body.Close()

	snapshot := health.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "origin-a", snapshot[0].Name)
	assert.Equal(t, "origin-b", snapshot[1].Name)

	assert.True(t, snapshot[0].Healthy())
	assert.NotNil(t, snapshot[0].LastSuccessAt)
	assert.Nil(t, snapshot[0].LastFailureAt)

	assert.NotNil(t, snapshot[1].LastFailureAt)
	assert.Contains(t, snapshot[1].LastError, "Service Unavailable")
	assert.Equal(t, uint32(3), snapshot[1].Failures)
}

func TestHealth_UnknownOrigin(t *testing.T) {
	health := resilience.NewHealth()
	_, ok := health.Status("nowhere")
	assert.False(t, ok)
	assert.Empty(t, health.Snapshot())
}
