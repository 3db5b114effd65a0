package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R8355H0755/lan-insight/internal/scanner"
)

func TestScanStartRejectsBadRange(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scan", map[string]string{"range": "not-a-range"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body["error"])
}

func TestScanStartAccepted(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scan", map[string]any{
		"range":      "192.168.1.1-4",
		"timeout_ms": 100,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "scanning", body["status"])
	assert.Equal(t, "192.168.1.1-4", body["range"])

	// The stub sweep completes immediately; wait for the record to land.
	require.Eventually(t, func() bool {
		records, err := fx.engine.ScanHistory(5)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = fx.do(t, http.MethodGet, "/api/scan/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScanStatusEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/scan/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status scanner.Status
	decodeBody(t, rec, &status)
	assert.Equal(t, scanner.StateIdle, status.State)
}

func TestScanValidateEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/scan/validate?range=192.168.1.0/24", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v scanner.RangeValidation
	decodeBody(t, rec, &v)
	assert.True(t, v.Valid)
	assert.Equal(t, 254, v.TotalIPs)

	rec = fx.do(t, http.MethodPost, "/api/scan/validate", map[string]string{"range": "garbage"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &v)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Error)
}

func TestScanPresetsEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/scan/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var presets []scanner.Preset
	decodeBody(t, rec, &presets)
	assert.NotEmpty(t, presets)
}

func TestScanPingRejectsBadIP(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scan/ping", map[string]string{"ip": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanPortsRejectsBadIP(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/scan/ports", map[string]string{"ip": "300.300.300.300"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
