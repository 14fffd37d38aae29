package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/internal/testutils"
	"github.com/aretw0/diffuse/pkg/adapters/memory"
	"github.com/aretw0/diffuse/pkg/observability"
	"github.com/aretw0/diffuse/pkg/service"
	"github.com/aretw0/diffuse/pkg/session"
)

func newTestHandler(t *testing.T) (http.Handler, *session.Registry) {
	t.Helper()
	svc := service.New(
		service.WithSlot(memory.NewSlot()),
		service.WithMetrics(observability.New()),
	)
	reg := session.NewRegistry(svc)
	return NewHandler(svc, reg, Config{Version: "v0.0.0-test"}), reg
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndInfo(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, w))

	w = do(t, h, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]string](t, w)
	assert.Equal(t, "v0.0.0-test", info["version"])
	assert.Equal(t, "diffuse-http", info["app"])
}

func TestDiffuse(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodPost, "/diffuse", map[string]any{
		"image_b64":       testutils.EncodedPNG(t, 12, 12),
		"steps":           10,
		"schedule":        "linear",
		"seed":            42,
		"return_data_url": false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[service.DiffuseResult](t, w)
	assert.Equal(t, 9, res.T)
	assert.False(t, strings.HasPrefix(res.Image, "data:"))

	last := do(t, h, http.MethodGet, "/schedule/last", nil)
	require.Equal(t, http.StatusOK, last.Code)
	snap := decode[map[string]any](t, last)
	assert.Equal(t, "linear", snap["kind"])
	assert.Len(t, snap["beta"], 10)
}

func TestDiffuse_Errors(t *testing.T) {
	h, _ := newTestHandler(t)
	img := testutils.EncodedPNG(t, 4, 4)

	tests := []struct {
		name string
		body any
		code int
	}{
		{"steps out of range", map[string]any{"image": img, "steps": 0}, http.StatusBadRequest},
		{"unknown schedule", map[string]any{"image": img, "steps": 3, "schedule": "exp"}, http.StatusBadRequest},
		{"malformed image", map[string]any{"image": "%%%", "steps": 3}, http.StatusBadRequest},
		{"invalid json", "{", http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/diffuse", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.NotEmpty(t, decode[errorBody](t, w).Detail)
		})
	}
}

func TestDiffuse_BodyTooLarge(t *testing.T) {
	svc := service.New()
	h := NewHandler(svc, nil, Config{ReadLimitBytes: 64})

	w := do(t, h, http.MethodPost, "/diffuse", map[string]any{"image": strings.Repeat("A", 200), "steps": 3})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSample(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodPost, "/diffuse/sample", map[string]any{
		"image":           testutils.EncodedPNG(t, 8, 8),
		"steps":           20,
		"seed":            1,
		"t":               50,
		"mode":            "iterative",
		"return_data_url": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[map[string]any](t, w)
	assert.Equal(t, 19.0, res["t"])
	assert.Equal(t, "iterative", res["mode"])
	assert.Contains(t, res["image"], "data:image/jpeg;base64,")
	assert.Contains(t, res, "alpha_bar")
}

func TestScheduleEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	w := do(t, h, http.MethodGet, "/schedule/last", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode[errorBody](t, w).Detail)

	w = do(t, h, http.MethodGet, "/schedule?steps=5&schedule=cosine", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode[service.SchedulePreview](t, w)
	assert.Equal(t, 5, preview.Steps)
	assert.Len(t, preview.Beta, 5)
	assert.Len(t, preview.SqrtOneMinusAlphaBar, 5)

	w = do(t, h, http.MethodGet, "/schedule?steps=3&beta_start=0.0001&beta_end=0.01", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview = decode[service.SchedulePreview](t, w)
	assert.InDelta(t, 0.0001, preview.Beta[0], 1e-9)

	w = do(t, h, http.MethodGet, "/schedule?steps=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/schedule", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Previews are not recorded.
	w = do(t, h, http.MethodGet, "/schedule/last", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)
	do(t, h, http.MethodGet, "/health", nil)

	w := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `diffuse_http_requests_total{code="200",route="/health"} 1`)
}

func TestSessions_EmptyList(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(t, h, http.MethodOptions, "/diffuse", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// -- WebSocket --

func dialStream(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/diffuse/ws"
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.SetReadDeadline(time.Now().Add(10*time.Second)))
	return client
}

// readAll reads messages until the server closes the connection.
func readAll(t *testing.T, client *gws.Conn) []map[string]any {
	t.Helper()
	var msgs []map[string]any
	for {
		var msg map[string]any
		if err := client.ReadJSON(&msg); err != nil {
			assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "unexpected read error: %v", err)
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestStream_Stride(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialStream(t, srv)
	require.NoError(t, client.WriteJSON(map[string]any{
		"image":         testutils.EncodedPNG(t, 8, 8),
		"steps":         10,
		"schedule":      "linear",
		"beta_start":    0.001,
		"beta_end":      0.02,
		"seed":          42,
		"preview_every": 3,
	}))

	msgs := readAll(t, client)
	require.Len(t, msgs, 5)
	for i, want := range []float64{0, 3, 6, 9} {
		assert.Equal(t, want, msgs[i]["t"])
		assert.NotContains(t, msgs[i], "status")
	}
	assert.Equal(t, "done", msgs[4]["status"])
	assert.Equal(t, 1.0, msgs[4]["progress"])
}

func TestStream_Cancel(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialStream(t, srv)
	require.NoError(t, client.WriteJSON(map[string]any{
		"image": testutils.EncodedPNG(t, 64, 64),
		"steps": 1000,
		"seed":  7,
	}))

	var first map[string]any
	require.NoError(t, client.ReadJSON(&first))
	assert.Equal(t, 0.0, first["t"])
	require.NoError(t, client.WriteJSON(map[string]string{"action": "cancel"}))

	msgs := readAll(t, client)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "canceled", last["status"])
	for _, m := range msgs[:len(msgs)-1] {
		assert.NotContains(t, m, "status", "only progress may precede the acknowledgment")
	}
	assert.Less(t, len(msgs), 999)
}

func TestStream_MalformedImage(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialStream(t, srv)
	require.NoError(t, client.WriteJSON(map[string]any{"image": "!!!", "steps": 10}))

	msgs := readAll(t, client)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["status"])
	assert.NotEmpty(t, msgs[0]["detail"])
}

func TestStream_ShutdownCancelsSessions(t *testing.T) {
	h, reg := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := dialStream(t, srv)
	require.NoError(t, client.WriteJSON(map[string]any{
		"image": testutils.EncodedPNG(t, 64, 64),
		"steps": 1000,
	}))
	var first map[string]any
	require.NoError(t, client.ReadJSON(&first))

	w := do(t, h, http.MethodGet, "/sessions", nil)
	infos := decode[[]session.Info](t, w)
	require.Len(t, infos, 1)
	assert.Equal(t, 1000, infos[0].Steps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	msgs := readAll(t, client)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "canceled", msgs[len(msgs)-1]["status"])
}

func TestStream_SilentClientIsReleased(t *testing.T) {
	svc := service.New(service.WithSlot(memory.NewSlot()))
	reg := session.NewRegistry(svc, session.WithStartTimeout(100*time.Millisecond))
	srv := httptest.NewServer(NewHandler(svc, reg, Config{}))
	defer srv.Close()

	client := dialStream(t, srv)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)

	msgs := readAll(t, client)
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0]["status"])
	assert.Contains(t, msgs[0]["detail"], "no start message")
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}
