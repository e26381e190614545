package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRelaysOutputAndNotices(t *testing.T) {
	runner := newStubRunner()
	runner.buffer.Print("before\n")
	srv := httptest.NewServer(newTestAPI(runner).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, []string{"before"}, msg.Lines)

	runner.buffer.Print("live")
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "print", msg.Type)
	assert.Equal(t, "live", msg.Text)

	runner.StopAll()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "notice", msg.Type)
	assert.Equal(t, "No running scripts found", msg.Message)

	runner.buffer.Clear()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "clear", msg.Type)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(newTestAPI(newStubRunner()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
