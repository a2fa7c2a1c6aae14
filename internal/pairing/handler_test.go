package pairing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testMux(t *testing.T) (*http.ServeMux, *TokenService, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	ts := newTestTokenService()
	mux := http.NewServeMux()
	NewHandler(ts, zap.New(core)).RegisterRoutes(mux)
	return mux, ts, logs
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestHandleIssue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantDevice string
	}{
		{name: "named device", body: `{"device_id":"kitchen-phone"}`, wantCode: http.StatusCreated, wantDevice: "kitchen-phone"},
		{name: "generated device", body: ``, wantCode: http.StatusCreated},
		{name: "empty object", body: `{}`, wantCode: http.StatusCreated},
		{name: "bad device", body: `{"device_id":"a/b"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{device_id}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, ts, _ := testMux(t)
			w := do(mux, "POST", "/api/v1/pairing/tokens", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusCreated {
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
				return
			}

			var p Pairing
			require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
			if tt.wantDevice != "" {
				assert.Equal(t, tt.wantDevice, p.DeviceID)
			} else {
				_, err := uuid.Parse(p.DeviceID)
				assert.NoError(t, err, "generated device ID should be a UUID")
			}

			dash, err := ts.Validate(p.DashboardToken, RoleDashboard)
			require.NoError(t, err)
			sensor, err := ts.Validate(p.SensorToken, RoleSensor)
			require.NoError(t, err)
			assert.Equal(t, p.DeviceID, dash.DeviceID)
			assert.Equal(t, p.DeviceID, sensor.DeviceID)
			assert.False(t, p.ExpiresAt.IsZero())
		})
	}
}

func TestHandleIssue_TokensNotLogged(t *testing.T) {
	mux, _, logs := testMux(t)
	w := do(mux, "POST", "/api/v1/pairing/tokens", `{"device_id":"dev"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var p Pairing
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	for _, entry := range logs.All() {
		for _, v := range entry.ContextMap() {
			s, _ := v.(string)
			assert.NotContains(t, s, p.SensorToken)
			assert.NotContains(t, s, p.DashboardToken)
		}
	}
}

func TestHandleVerify(t *testing.T) {
	mux, ts, _ := testMux(t)
	sensor, _, err := ts.Issue("dev", RoleSensor)
	require.NoError(t, err)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "valid default role", body: `{"token":"` + sensor + `"}`, wantCode: http.StatusOK},
		{name: "valid explicit role", body: `{"token":"` + sensor + `","role":"sensor"}`, wantCode: http.StatusOK},
		{name: "wrong role", body: `{"token":"` + sensor + `","role":"dashboard"}`, wantCode: http.StatusUnauthorized},
		{name: "garbage token", body: `{"token":"abc"}`, wantCode: http.StatusUnauthorized},
		{name: "missing token", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `nope`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(mux, "POST", "/api/v1/pairing/verify", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusOK {
				var resp VerifyResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, "dev", resp.DeviceID)
				assert.Equal(t, RoleSensor, resp.Role)
			}
		})
	}
}
