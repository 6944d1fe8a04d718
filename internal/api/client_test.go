package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemtutor/internal/artifact"
)

func TestRequestPasscode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/generate-otp", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "+61412345678", body["identifier"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	require.NoError(t, c.RequestPasscode(context.Background(), "+61412345678"))
}

func TestRequestPasscodeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": false, "error": "unknown account"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	err := c.RequestPasscode(context.Background(), "nobody@example.com")

	var rej *RemoteRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "unknown account", rej.Reason)
}

func TestVerifyPasscode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "123456", body["otp"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "Priya", "role": "student", "class": "12A"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	id, err := c.VerifyPasscode(context.Background(), "priya@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, Identity{DisplayName: "Priya", Role: "student", Class: "12A"}, id)
}

func TestVerifyPasscodeWrongCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "Invalid OTP"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	_, err := c.VerifyPasscode(context.Background(), "priya@example.com", "000000")

	var rej *RemoteRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Invalid OTP", rej.Reason)
}

func TestStartSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/start", r.URL.Path)

		var req StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sociology", req.Subject)
		require.Equal(t, 6, req.Marks)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id": "sess-42", "reply": "Let's begin."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	res, err := c.StartSession(context.Background(), StartRequest{
		Subject:      "sociology",
		Marks:        6,
		QuestionText: "Define socialisation.",
		Username:     "priya@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-42", res.SessionID)
	assert.Equal(t, "Let's begin.", res.Reply.Text)
}

func TestStartSessionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply": "hello"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	_, err := c.StartSession(context.Background(), StartRequest{Subject: "sociology"})

	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestSendMessageNormalizesLinkShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		text string
		want []Link
	}{
		{
			name: "links array",
			body: `{"reply": "See the textbook.", "links": [{"label": "Ch. 3", "url": "https://example.com/c3", "page": 41}]}`,
			text: "See the textbook.",
			want: []Link{{Label: "Ch. 3", URL: "https://example.com/c3", Page: 41}},
		},
		{
			name: "single link with title",
			body: `{"text_reply": "Reference attached.", "link": {"title": "Notes", "url": "https://example.com/n"}}`,
			text: "Reference attached.",
			want: []Link{{Label: "Notes", URL: "https://example.com/n"}},
		},
		{
			name: "legacy embedded markdown",
			body: `{"reply": "Covered in [Chapter 2](https://example.com/c2) in depth."}`,
			text: "Covered in Chapter 2 in depth.",
			want: []Link{{Label: "Chapter 2", URL: "https://example.com/c2"}},
		},
		{
			name: "no links at all",
			body: `{"reply": "Plain answer."}`,
			text: "Plain answer.",
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.URL)
			reply, err := c.SendMessage(context.Background(), SendRequest{SessionID: "s", Message: "m"})
			require.NoError(t, err)
			assert.Equal(t, tc.text, reply.Text)
			assert.Equal(t, tc.want, reply.Links)
		})
	}
}

func TestSendMessageStripsMarkup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply": "## Key point\n**Socialisation** is lifelong.", "audio_pending": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	reply, err := c.SendMessage(context.Background(), SendRequest{SessionID: "s", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Key point\nSocialisation is lifelong.", reply.Text)
	assert.True(t, reply.AudioPending)
}

func TestFetchAudio(t *testing.T) {
	payload := []byte("fake mp3 bytes")
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/get-audio/sess-42", r.URL.Path)
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls < 3 {
			w.Write([]byte(`{"audio_ready": false}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"audio_ready":  true,
			"audio_base64": base64.StdEncoding.EncodeToString(payload),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)

	for i := 0; i < 2; i++ {
		_, ready, err := c.FetchAudio(context.Background(), "sess-42")
		require.NoError(t, err)
		assert.False(t, ready)
	}
	data, ready, err := c.FetchAudio(context.Background(), "sess-42")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, payload, data)
}

func TestFetchAudioLargeClip(t *testing.T) {
	// A clip well past the chat-endpoint body cap must come back intact.
	payload := bytes.Repeat([]byte{0x55}, 5<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"audio_ready":  true,
			"audio_base64": base64.StdEncoding.EncodeToString(payload),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	data, ready, err := c.FetchAudio(context.Background(), "sess-42")
	require.NoError(t, err)
	assert.True(t, ready)
	require.Len(t, data, len(payload))
	assert.True(t, bytes.Equal(payload, data))
}

func TestFetchAudioBadBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"audio_ready": true, "audio_base64": "!!not base64!!"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	_, _, err := c.FetchAudio(context.Background(), "sess-42")

	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestAudioPollEndToEnd(t *testing.T) {
	payload := []byte("ready mp3")
	var probes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&probes, 1)
		w.Header().Set("Content-Type", "application/json")
		if n <= 2 {
			w.Write([]byte(`{"audio_ready": false}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"audio_ready":  true,
			"audio_base64": base64.StdEncoding.EncodeToString(payload),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	got, err := artifact.Poll(context.Background(), func(ctx context.Context) ([]byte, bool, error) {
		return c.FetchAudio(ctx, "sess-42")
	}, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.EqualValues(t, 3, atomic.LoadInt32(&probes))
}

func TestStatusErrorWithoutStructuredBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream fell over"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL)
	err := c.RequestPasscode(context.Background(), "priya@example.com")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, se.Body, "upstream fell over")
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := NewClient(srv.URL, srv.URL)
	err := c.RequestPasscode(context.Background(), "priya@example.com")

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.True(t, errors.Unwrap(te) != nil)
}
