package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
)

func TestClientConnectsAndSendsFrames(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "chre.sock")
	fh, err := ListenFakeHost(sock)
	require.NoError(t, err)
	defer fh.Close()
	go fh.Serve()

	c := New(Config{SocketPath: sock})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Send(Envelope{ClientID: 1, Tag: TagNanoappMessage, Payload: []byte("x")}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Send(Envelope{ClientID: 1, Tag: TagNanoappMessage, Payload: []byte("ping")}))

	select {
	case env := <-fh.Received():
		assert.Equal(t, TagNanoappMessage, env.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("fake host never received a frame")
	}
}

func TestFlushPendingRunsFreeCallbacks(t *testing.T) {
	c := New(Config{SocketPath: filepath.Join(t.TempDir(), "unused.sock")})

	freed := 0
	c.EnqueueOutbound(nanoapp.AppID(0x1), Envelope{Tag: TagNanoappMessage}, func(event.Type, any) { freed++ }, 1, nil)
	c.EnqueueOutbound(nanoapp.AppID(0x1), Envelope{Tag: TagNanoappMessage}, func(event.Type, any) { freed++ }, 2, nil)

	require.NoError(t, c.FlushPending(nanoapp.AppID(0x1)))
	assert.Equal(t, 2, freed)
}

func TestDisconnectAbortsBackoffWait(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist.sock")
	_ = os.Remove(missing)

	c := New(Config{SocketPath: missing, Policy: ReconnectPolicy{Initial: time.Minute, Max: time.Minute, MaxAttempts: 40}})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after Disconnect")
	}
}
