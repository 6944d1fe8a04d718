// Package auth drives the passcode login flow: identifier validation and
// normalisation, requesting and verifying one-time codes, and the resend
// cooldown between code requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"gemtutor/internal/api"
	"gemtutor/internal/timer"
)

// State is where the login flow currently stands.
type State int

const (
	// StateNone means no passcode has been requested yet.
	StateNone State = iota
	// StateSent means a passcode is out and may be verified or resent.
	StateSent
	// StateVerified means the account is logged in.
	StateVerified
	// StateFailed means the last request or verification was refused. A
	// failed verification keeps the sent passcode usable for another try.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateSent:
		return "sent"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidationError reports a locally rejected input. No network call is made
// when one of these is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrResendUnavailable is returned when a resend is attempted while the
// cooldown is still running or before any passcode was sent.
var ErrResendUnavailable = errors.New("auth: resend not available yet")

// Passcoder is the backend surface the authenticator needs. *api.Client
// satisfies it.
type Passcoder interface {
	RequestPasscode(ctx context.Context, identifier string) error
	VerifyPasscode(ctx context.Context, identifier, code string) (api.Identity, error)
}

// Authenticator is the login state machine. It owns its resend cooldown;
// the caller schedules the once-a-second ticks and feeds them back in.
// Requests run on worker goroutines while the view reads state between
// frames, so access is guarded by a mutex. At most one request may be in
// flight at a time; an overlapping request is refused.
type Authenticator struct {
	backend  Passcoder
	coolSecs int

	mu         sync.Mutex
	cooldown   timer.Countdown
	inflight   bool
	state      State
	codeSent   bool
	identifier string
	identity   api.Identity
	reason     string
}

// NewAuthenticator wires an authenticator to the given backend with the
// given resend cooldown in seconds.
func NewAuthenticator(backend Passcoder, cooldownSeconds int) *Authenticator {
	return &Authenticator{backend: backend, coolSecs: cooldownSeconds}
}

var (
	validate = validator.New()

	nationalMobileRe = regexp.MustCompile(`^04\d{8}$`)
	intlMobileRe     = regexp.MustCompile(`^\+614\d{8}$`)
)

// NormalizeIdentifier canonicalises an email address or Australian mobile
// number. National-format mobiles (04xxxxxxxx) become +614xxxxxxxx; emails
// are lowercased. Anything else is a ValidationError.
func NormalizeIdentifier(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Field: "identifier", Reason: "enter an email address or mobile number"}
	}

	if strings.Contains(trimmed, "@") {
		if err := validate.Var(trimmed, "required,email"); err != nil {
			return "", &ValidationError{Field: "identifier", Reason: "that email address does not look right"}
		}
		return strings.ToLower(trimmed), nil
	}

	digits := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, trimmed)
	switch {
	case nationalMobileRe.MatchString(digits):
		return "+61" + digits[1:], nil
	case intlMobileRe.MatchString(digits):
		return digits, nil
	}
	return "", &ValidationError{Field: "identifier", Reason: "that mobile number does not look right"}
}

// RequestChallenge validates the identifier and asks the backend to send a
// passcode to it. On success the resend cooldown is armed and its
// generation token returned so the caller can drive the ticks.
func (a *Authenticator) RequestChallenge(ctx context.Context, rawIdentifier string) (int, error) {
	a.mu.Lock()
	if a.inflight {
		a.mu.Unlock()
		return 0, &ValidationError{Field: "identifier", Reason: "another request is still in flight"}
	}
	if a.codeSent || a.state == StateVerified {
		a.mu.Unlock()
		return 0, &ValidationError{Field: "identifier", Reason: "a passcode has already been sent"}
	}
	id, err := NormalizeIdentifier(rawIdentifier)
	if err != nil {
		a.mu.Unlock()
		return 0, err
	}
	a.inflight = true
	a.mu.Unlock()

	reqErr := a.backend.RequestPasscode(ctx, id)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight = false
	if reqErr != nil {
		a.state = StateFailed
		a.reason = reasonOf(reqErr)
		return 0, reqErr
	}
	a.identifier = id
	a.codeSent = true
	a.state = StateSent
	a.reason = ""
	return a.cooldown.Start(a.coolSecs), nil
}

// Resend asks for a fresh passcode for the already-locked identifier. Only
// allowed once the cooldown has fully elapsed; on success the cooldown is
// re-armed and the new generation token returned.
func (a *Authenticator) Resend(ctx context.Context) (int, error) {
	a.mu.Lock()
	if a.inflight || !a.codeSent || a.state == StateVerified || a.cooldown.Running() {
		a.mu.Unlock()
		return 0, ErrResendUnavailable
	}
	id := a.identifier
	a.inflight = true
	a.mu.Unlock()

	reqErr := a.backend.RequestPasscode(ctx, id)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight = false
	if reqErr != nil {
		a.state = StateFailed
		a.reason = reasonOf(reqErr)
		return 0, reqErr
	}
	a.state = StateSent
	a.reason = ""
	return a.cooldown.Start(a.coolSecs), nil
}

// Verify submits the passcode. On success the flow is Verified and the
// cooldown stops. On refusal the flow is Failed but the code stays
// submittable, and the cooldown keeps whatever time it had.
func (a *Authenticator) Verify(ctx context.Context, code string) (api.Identity, error) {
	a.mu.Lock()
	if a.inflight {
		a.mu.Unlock()
		return api.Identity{}, &ValidationError{Field: "passcode", Reason: "another request is still in flight"}
	}
	if !a.codeSent || a.state == StateVerified {
		a.mu.Unlock()
		return api.Identity{}, &ValidationError{Field: "passcode", Reason: "request a passcode first"}
	}
	code = strings.TrimSpace(code)
	if code == "" {
		a.mu.Unlock()
		return api.Identity{}, &ValidationError{Field: "passcode", Reason: "enter the passcode you received"}
	}
	id := a.identifier
	a.inflight = true
	a.mu.Unlock()

	identity, err := a.backend.VerifyPasscode(ctx, id, code)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inflight = false
	if err != nil {
		a.state = StateFailed
		a.reason = reasonOf(err)
		return api.Identity{}, err
	}
	a.identity = identity
	a.state = StateVerified
	a.reason = ""
	a.cooldown.Stop()
	return identity, nil
}

// CooldownTick feeds one elapsed second into the resend cooldown. The
// return values mirror timer.Countdown.Tick.
func (a *Authenticator) CooldownTick(gen int) (remaining int, finished, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldown.Tick(gen)
}

// CooldownRemaining reports the seconds until resend unlocks.
func (a *Authenticator) CooldownRemaining() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cooldown.Remaining()
}

// CanResend reports whether a resend would currently be accepted.
func (a *Authenticator) CanResend() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.inflight && a.codeSent && a.state != StateVerified && !a.cooldown.Running()
}

// State returns the current flow state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Identifier returns the normalised identifier the passcode went to.
func (a *Authenticator) Identifier() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identifier
}

// Identity returns the logged-in account. Valid once State is Verified.
func (a *Authenticator) Identity() api.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Reason returns the user-facing explanation for the last failure.
func (a *Authenticator) Reason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reason
}

func reasonOf(err error) string {
	var rej *api.RemoteRejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return "something went wrong, please try again"
}
