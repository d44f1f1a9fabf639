package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServer creates a NATS server on a random local port. A non-empty
// storeDir enables JetStream, which then starts together with the server.
func RunServer(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		JetStream:      storeDir != "",
		StoreDir:       storeDir,
	}

	return server.NewServer(opts)
}

// JetStream bundles an embedded server with a client connection
type JetStream struct {
	Server *server.Server
	Conn   *nats.Conn
	JS     nats.JetStreamContext
}

// StartJetStream starts an embedded NATS server with JetStream enabled.
// Shutdown is registered with t.Cleanup.
func StartJetStream(t *testing.T) *JetStream {
	t.Helper()

	s, err := RunServer(t.TempDir())
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}
	if !s.JetStreamEnabled() {
		s.Shutdown()
		t.Fatal("JetStream not enabled on NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)
	require.NoError(t, waitForJetStream(js, 10*time.Second))

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})

	return &JetStream{Server: s, Conn: nc, JS: js}
}

// waitForJetStream polls the account info until the JetStream API answers
func waitForJetStream(js nats.JetStreamContext, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := js.AccountInfo()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("jetstream not ready: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}

// NextMessage reads the next message stored in stream under subject
func NextMessage(t *testing.T, js nats.JetStreamContext, subject string, timeout time.Duration) *nats.Msg {
	t.Helper()

	sub, err := js.SubscribeSync(subject, nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := sub.NextMsg(timeout)
	require.NoError(t, err)
	return msg
}
