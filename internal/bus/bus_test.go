package bus

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url, shard string) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	c, err := Dial(ctx, Config{Shard: shard, URL: url, Reconnect: 10 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestDialRequiresShard(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1"})
	require.Error(t, err)
}

func TestListenerReceivesUtterances(t *testing.T) {
	hub, url := startHub(t)
	lumen := connect(t, url, "lumen")
	remote := connect(t, url, "phone")
	require.Eventually(t, func() bool { return hub.Peers() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, remote.Send(ctx, Message{To: "someone-else", Kind: KindUtterance, Content: "not for us"}))
	require.NoError(t, remote.Send(ctx, Message{To: "lumen", Kind: KindUtterance, Content: "  what time is it  "}))

	l := NewListener(lumen, nil, nil)
	u, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "what time is it", u.Text)
}

func TestListenerTranscribesAudio(t *testing.T) {
	hub, url := startHub(t)
	lumen := connect(t, url, "lumen")
	remote := connect(t, url, "mic")
	require.Eventually(t, func() bool { return hub.Peers() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []byte
	transcribe := func(_ context.Context, audio []byte) (string, error) {
		got = audio
		return "open notepad", nil
	}
	stopped := make(chan struct{}, 1)
	l := NewListener(lumen, transcribe, func() { stopped <- struct{}{} })

	require.NoError(t, remote.Send(ctx, Message{To: Broadcast, Kind: KindStop}))
	require.NoError(t, remote.Send(ctx, Message{To: "lumen", Kind: KindAudio, Audio: []byte{1, 2, 3}}))

	u, err := l.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "open notepad", u.Text)
	assert.Equal(t, []byte{1, 2, 3}, got)

	select {
	case <-stopped:
	default:
		t.Fatal("stop message was not forwarded")
	}
}

func TestListenerTranscribeFailure(t *testing.T) {
	hub, url := startHub(t)
	lumen := connect(t, url, "lumen")
	remote := connect(t, url, "mic")
	require.Eventually(t, func() bool { return hub.Peers() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	boom := errors.New("model not loaded")
	l := NewListener(lumen, func(context.Context, []byte) (string, error) { return "", boom }, nil)

	require.NoError(t, remote.Send(ctx, Message{To: "lumen", Kind: KindAudio, Audio: []byte{0}}))
	_, err := l.Next(ctx)
	require.ErrorIs(t, err, boom)
}

func TestSpeakerWaitsForAck(t *testing.T) {
	hub, url := startHub(t)
	lumen := connect(t, url, "lumen")
	voice := connect(t, url, "voice")
	require.Eventually(t, func() bool { return hub.Peers() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	spoken := make(chan string, 2)
	go func() {
		for m := range voice.Inbox() {
			if m.Kind != KindSay {
				continue
			}
			spoken <- m.Content
			var err error
			if m.Content == "fail" {
				err = errors.New("audio device busy")
			}
			_ = voice.Send(ctx, m.Reply("voice", err))
		}
	}()

	sp := NewSpeaker(lumen, "voice")
	require.NoError(t, sp.Speak(ctx, "Opening Notepad."))
	assert.Equal(t, "Opening Notepad.", <-spoken)

	err := sp.Speak(ctx, "fail")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "audio device busy")
}

func TestRequestHonorsContext(t *testing.T) {
	hub, url := startHub(t)
	lumen := connect(t, url, "lumen")
	require.Eventually(t, func() bool { return hub.Peers() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := lumen.Request(ctx, Message{To: "nobody", Kind: KindSend, Content: "hi"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerEndsWhenClientCloses(t *testing.T) {
	_, url := startHub(t)
	lumen := connect(t, url, "lumen")

	require.NoError(t, lumen.Close())

	l := NewListener(lumen, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := l.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, lumen.Send(ctx, Message{To: "x", Kind: KindSay}), ErrClosed)
}

func TestDecodeRejectsMissingKind(t *testing.T) {
	_, err := Decode([]byte(`{"from":"a","to":"b"}`))
	require.Error(t, err)

	m, err := Decode([]byte(`{"from":"a","to":"all","kind":"say","content":"hi"}`))
	require.NoError(t, err)
	assert.True(t, m.For("lumen"))
	assert.Equal(t, "hi", m.Content)
}
