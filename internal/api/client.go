// Package api is the HTTP client for the tutoring backend. The backend is
// split across two hosts, one serving passcode auth and one serving chat
// and audio, so the client carries a base URL for each.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 90 * time.Second
	maxBodyBytes   = 4 << 20
	// Audio responses carry a whole clip as base64, so they get a far
	// larger ceiling than the chat endpoints.
	maxAudioBytes = 64 << 20
)

// Client talks to the tutoring backend. Construct it with NewClient; the
// zero value is not usable.
type Client struct {
	authBaseURL string
	chatBaseURL string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient builds a client for the given auth and chat hosts.
func NewClient(authBaseURL, chatBaseURL string, opts ...Option) *Client {
	c := &Client{
		authBaseURL: authBaseURL,
		chatBaseURL: chatBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity is the account record returned by a successful login.
type Identity struct {
	DisplayName string `json:"name"`
	Role        string `json:"role"`
	Class       string `json:"class"`
}

// RequestPasscode asks the backend to send a one-time passcode to the given
// email address or phone number.
func (c *Client) RequestPasscode(ctx context.Context, identifier string) error {
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	err := c.doJSON(ctx, http.MethodPost, c.authBaseURL+"/generate-otp",
		map[string]string{"identifier": identifier}, &out)
	if err != nil {
		return err
	}
	if !out.OK {
		reason := out.Error
		if reason == "" {
			reason = "passcode could not be sent"
		}
		return &RemoteRejection{Reason: reason}
	}
	return nil
}

// VerifyPasscode exchanges an identifier and passcode for the account's
// identity. A wrong or expired code comes back as a RemoteRejection.
func (c *Client) VerifyPasscode(ctx context.Context, identifier, code string) (Identity, error) {
	var out Identity
	err := c.doJSON(ctx, http.MethodPost, c.authBaseURL+"/login",
		map[string]string{"identifier": identifier, "otp": code}, &out)
	if err != nil {
		return Identity{}, err
	}
	return out, nil
}

// StartRequest opens a tutoring session on a chosen question.
type StartRequest struct {
	Subject      string `json:"subject"`
	Marks        int    `json:"marks"`
	QuestionText string `json:"question_text"`
	Username     string `json:"username"`
}

// StartResult is the opened session plus the tutor's first reply, which may
// be empty when the backend defers its greeting.
type StartResult struct {
	SessionID string
	Reply     Reply
}

// StartSession opens a new session and returns its id with the greeting.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (StartResult, error) {
	var out struct {
		SessionID string `json:"session_id"`
		wireReply
	}
	err := c.doJSON(ctx, http.MethodPost, c.chatBaseURL+"/chat/start", req, &out)
	if err != nil {
		return StartResult{}, err
	}
	if out.SessionID == "" {
		return StartResult{}, &TransportError{Op: "start session", Err: fmt.Errorf("response carried no session id")}
	}
	return StartResult{SessionID: out.SessionID, Reply: out.wireReply.normalize()}, nil
}

// SendRequest carries one user message into an open session. ReasoningLevel
// is a guest-mode hint (simple, medium, advanced) and is omitted otherwise.
type SendRequest struct {
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
	Username       string `json:"username"`
	Subject        string `json:"subject"`
	ReasoningLevel string `json:"reasoning_level,omitempty"`
}

// SendMessage delivers a message and returns the tutor's reply.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (Reply, error) {
	var out wireReply
	err := c.doJSON(ctx, http.MethodPost, c.chatBaseURL+"/chat/send", req, &out)
	if err != nil {
		return Reply{}, err
	}
	return out.normalize(), nil
}

// FetchAudio probes for the session's spoken reply. ready is false while the
// backend is still synthesising. The signature matches artifact.FetchFunc so
// a poll job can use it directly.
func (c *Client) FetchAudio(ctx context.Context, sessionID string) ([]byte, bool, error) {
	var out struct {
		AudioReady  bool   `json:"audio_ready"`
		AudioBase64 string `json:"audio_base64"`
	}
	err := c.doJSONLimit(ctx, http.MethodGet, c.chatBaseURL+"/get-audio/"+sessionID, nil, &out, maxAudioBytes)
	if err != nil {
		return nil, false, err
	}
	if !out.AudioReady {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return nil, false, &TransportError{Op: "decode audio", Err: err}
	}
	return data, true, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	return c.doJSONLimit(ctx, method, url, in, out, maxBodyBytes)
}

func (c *Client) doJSONLimit(ctx context.Context, method, url string, in, out any, limit int64) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: "encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &TransportError{Op: "build request", Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if reason := rejectionReason(raw); reason != "" {
			return &RemoteRejection{Reason: reason}
		}
		return &StatusError{StatusCode: resp.StatusCode, URL: url, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &TransportError{Op: "decode response", Err: err}
		}
	}
	return nil
}

// rejectionReason pulls a human-readable reason out of an error payload.
// The auth host uses "detail", the chat host "error".
func rejectionReason(raw []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Detail != "":
		return payload.Detail
	case payload.Error != "":
		return payload.Error
	default:
		return payload.Message
	}
}
