package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/homenlu/internal/message"
)

// echoHandler reports back what it received.
func echoHandler(_ context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if msg.Text == "boom" {
		return nil, errors.New("pipeline exploded")
	}
	return &message.DispatchResult{MessageID: msg.Source, Text: msg.Text}, nil
}

func TestInterpretJSON(t *testing.T) {
	srv := httptest.NewServer(New(0, false).Handler(echoHandler))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/interpret", "application/json",
		strings.NewReader(`{"source":"panel-1","text":"打开客厅的灯"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var res message.DispatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "panel-1", res.MessageID)
	assert.Equal(t, "打开客厅的灯", res.Text)
}

func TestInterpretPlainText(t *testing.T) {
	srv := httptest.NewServer(New(0, false).Handler(echoHandler))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/interpret", strings.NewReader("关闭空调"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Homenlu-Source", "phone")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res message.DispatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "phone", res.MessageID)
	assert.Equal(t, "关闭空调", res.Text)
}

func TestInterpretErrors(t *testing.T) {
	srv := httptest.NewServer(New(0, false).Handler(echoHandler))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/interpret", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/interpret", "application/json", strings.NewReader(`{"text":"boom"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/interpret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSwaggerRoute(t *testing.T) {
	off := httptest.NewServer(New(0, false).Handler(echoHandler))
	defer off.Close()
	resp, err := http.Get(off.URL + "/swagger/index.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	on := httptest.NewServer(New(0, true).Handler(echoHandler))
	defer on.Close()
	resp, err = http.Get(on.URL + "/swagger/index.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocket(t *testing.T) {
	srv := httptest.NewServer(New(0, false).Handler(echoHandler))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?source=panel-2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("拉上窗帘")))
	var res message.DispatchResult
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "panel-2", res.MessageID)
	assert.Equal(t, "拉上窗帘", res.Text)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"source":"override","text":"打开灯"}`)))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "override", res.MessageID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":`)))
	var failure map[string]string
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Contains(t, failure["error"], "invalid json")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "only text frames are supported", failure["error"])
}

func TestSend(t *testing.T) {
	var gotAuth, gotBody string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b := new(strings.Builder)
		_, _ = io.Copy(b, r.Body)
		gotBody = b.String()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer target.Close()

	tr := New(0, false)
	err := tr.Send(context.Background(), message.Target{Endpoint: target.URL, Token: "secret"}, []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, `{"ok":true}`, gotBody)
}

func TestSendErrorStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer target.Close()

	err := New(0, false).Send(context.Background(), message.Target{Endpoint: target.URL}, []byte(`{}`))
	assert.ErrorContains(t, err, "status 401")
}
