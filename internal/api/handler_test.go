package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlink/internal/config"
	"fleetlink/internal/coordinator"
	"fleetlink/internal/domain"
	"fleetlink/internal/transition"
	"fleetlink/internal/transport"
)

func newTestServer(t *testing.T, entries ...*config.FleetEntry) (*gin.Engine, config.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := config.NewMemoryStore()
	for _, entry := range entries {
		require.NoError(t, store.Put(context.Background(), entry))
	}

	// empty registry: no transport drivers, so polling cannot start
	registry := transport.NewRegistry()
	mgr := coordinator.NewManager(store, registry, time.Second)
	router := transition.NewRouter(store, registry, mgr)
	h := NewHandler(mgr, store, router)

	r := gin.New()
	SetupRoutes(r, h, prometheus.NewRegistry())
	return r, store
}

func cloudEntry(id string) *config.FleetEntry {
	return &config.FleetEntry{
		ID:   id,
		Name: "Test Site",
		Mode: config.ModeCloud,
		Cloud: &config.CloudCredentials{
			Username: "user",
			Password: "secret",
			PlantID:  "plant-9",
		},
		PollInterval: 30 * time.Second,
		Devices: []config.DeviceConfig{
			{Serial: "SN1", Type: domain.DeviceInverter},
		},
	}
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListEntriesRedactsPassword(t *testing.T) {
	r, _ := newTestServer(t, cloudEntry("entry-1"))

	w := doJSON(r, http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []config.FleetEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "user", got[0].Cloud.Username)
	assert.Empty(t, got[0].Cloud.Password)
}

func TestPutEntryStoresEvenWithoutDriver(t *testing.T) {
	r, store := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/api/entries", cloudEntry("entry-1"))
	// no transport driver is installed, so the entry is stored but polling
	// does not start
	assert.Equal(t, http.StatusAccepted, w.Code)

	stored, err := store.Get(context.Background(), "entry-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Site", stored.Name)
}

func TestPutEntryRejectsMissingID(t *testing.T) {
	r, _ := newTestServer(t)

	entry := cloudEntry("")
	w := doJSON(r, http.MethodPost, "/api/entries", entry)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteEntry(t *testing.T) {
	r, store := newTestServer(t, cloudEntry("entry-1"))

	w := doJSON(r, http.MethodDelete, "/api/entries/entry-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err := store.Get(context.Background(), "entry-1")
	assert.ErrorIs(t, err, config.ErrEntryNotFound)

	w = doJSON(r, http.MethodDelete, "/api/entries/entry-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotForUnknownEntry(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/api/entries/ghost/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshUnknownEntry(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/api/entries/ghost/refresh", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransitionEndpoints(t *testing.T) {
	r, _ := newTestServer(t, cloudEntry("entry-1"))

	w := doJSON(r, http.MethodPost, "/api/transitions", map[string]interface{}{
		"entry_id": "entry-1",
		"target":   "hybrid",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var started struct {
		TransitionID string            `json:"transition_id"`
		Result       transition.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.NotEmpty(t, started.TransitionID)
	assert.Equal(t, transition.StepSelectLocalType, started.Result.NextStep)

	w = doJSON(r, http.MethodPost, fmt.Sprintf("/api/transitions/%s/step", started.TransitionID), map[string]interface{}{
		"step":  "select_local_type",
		"input": map[string]string{"local_type": "modbus"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/transitions/"+started.TransitionID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/transitions/"+started.TransitionID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartTransitionUnknownEntry(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodPost, "/api/transitions", map[string]interface{}{
		"entry_id": "ghost",
		"target":   "hybrid",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
