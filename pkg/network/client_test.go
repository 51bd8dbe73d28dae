package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientPair returns a Client for the accepted side of a loopback
// connection and the dialing peer.
func clientPair(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer ln.Close()

	peer, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	conn, err := ln.AcceptTCP()
	require.NoError(t, err)
	c := newClient(conn, clientOptions{
		bufferSize:   1024,
		readPoll:     time.Millisecond,
		writeTimeout: time.Second,
		log:          testLogger(),
	})
	t.Cleanup(func() { c.Close() })
	return c, peer
}

func TestClient_IdleReceiveKeepsClientAlive(t *testing.T) {
	c, peer := clientPair(t)

	data, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.True(t, c.IsConnected())

	_, err = peer.Write([]byte("late"))
	require.NoError(t, err)
	var got []byte
	require.Eventually(t, func() bool {
		data, err := c.Receive(context.Background())
		if err != nil {
			return false
		}
		got = append(got, data...)
		return len(got) == 4
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "late", string(got))

	require.NoError(t, c.Send(context.Background(), []byte("back")))
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4)
	_, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "back", string(buf))
}

func TestClient_PeerCloseIsDetected(t *testing.T) {
	c, peer := clientPair(t)
	_, err := c.Receive(context.Background())
	require.NoError(t, err)

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestServer_RejectedClientIsNotLoggedAsAccepted(t *testing.T) {
	logger, hook := test.NewNullLogger()
	srv, _, _ := startServer(t, ServerOptions{MaxClients: 1, Logger: logrus.NewEntry(logger)})

	dial(t, srv)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	expectClosed(t, dial(t, srv))

	counts := map[string]int{}
	for _, e := range hook.AllEntries() {
		counts[e.Message]++
	}
	assert.Equal(t, 1, counts["Client accepted"])
	assert.Equal(t, 1, counts["Connection rejected: too many clients"])
	assert.Zero(t, counts["Client disconnected"])
}
