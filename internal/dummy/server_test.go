package dummy_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"connswarm/internal/dummy"
	"connswarm/internal/transport"
)

func TestRejectRateRefusesHandshake(t *testing.T) {
	srv := httptest.NewServer(dummy.NewServer(dummy.ServerConfig{RejectRate: 1}).Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	c := transport.NewClient(transport.Config{URL: url, HandshakeTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	assert.Error(t, c.Connect(context.Background()), "reject rate of 1 refuses every handshake")
}

func TestConnectionCounter(t *testing.T) {
	s := dummy.NewServer(dummy.ServerConfig{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	c := transport.NewClient(transport.Config{URL: url, HandshakeTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, c.Connect(context.Background()))

	assert.Eventually(t, func() bool { return s.Connections() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return s.Connections() == 0 },
		time.Second, 10*time.Millisecond)
}
