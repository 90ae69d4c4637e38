package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Stage is the per-user position in the login dialog.
type Stage int

const (
	StageIdle Stage = iota
	StageLogin
	StagePassword
)

// Result is the outcome of feeding one text message into the flow.
type Result int

const (
	// ResultIgnored: the user has no active attempt; the message is not ours.
	ResultIgnored Result = iota
	// ResultAskPassword: login captured, password expected next.
	ResultAskPassword
	// ResultSuccess: credentials matched; the user is now authenticated.
	ResultSuccess
	// ResultFailure: credentials did not match; attempt cleared.
	ResultFailure
)

// Credentials are the values a login attempt is checked against.
// PasswordHash is the hex sha-256 of the accepted plaintext.
type Credentials struct {
	Login        string
	PasswordHash string
}

// Flow is the challenge/response login state machine.
//
// One attempt per user; an attempt is cleared on success, failure, or
// cancel. Successful completion is the only thing that mutates Sessions.
type Flow struct {
	mu       sync.Mutex
	creds    Credentials
	attempts map[int64]*attempt
	sessions *Sessions
}

type attempt struct {
	stage        Stage
	enteredLogin string
}

func NewFlow(creds Credentials, sessions *Sessions) *Flow {
	return &Flow{
		creds:    creds,
		attempts: map[int64]*attempt{},
		sessions: sessions,
	}
}

// Apply swaps the checked credentials (config hot reload).
// In-progress attempts keep running against the new values.
func (f *Flow) Apply(creds Credentials) {
	f.mu.Lock()
	f.creds = creds
	f.mu.Unlock()
}

// Begin opens (or restarts) a login attempt for the user.
// The caller is responsible for the allow-list check.
func (f *Flow) Begin(userID int64) {
	f.mu.Lock()
	f.attempts[userID] = &attempt{stage: StageLogin}
	f.mu.Unlock()
}

// Cancel clears any attempt for the user.
func (f *Flow) Cancel(userID int64) {
	f.mu.Lock()
	delete(f.attempts, userID)
	f.mu.Unlock()
}

// Stage reports the user's current position in the dialog.
func (f *Flow) Stage(userID int64) Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at := f.attempts[userID]; at != nil {
		return at.stage
	}
	return StageIdle
}

// Submit feeds one plain text message into the user's attempt.
func (f *Flow) Submit(userID int64, text string) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	at := f.attempts[userID]
	if at == nil {
		return ResultIgnored
	}

	switch at.stage {
	case StageLogin:
		at.enteredLogin = text
		at.stage = StagePassword
		return ResultAskPassword
	case StagePassword:
		loginOK := at.enteredLogin == f.creds.Login
		passwordOK := HashPassword(text) == f.creds.PasswordHash
		delete(f.attempts, userID)
		if loginOK && passwordOK {
			f.sessions.Add(userID)
			return ResultSuccess
		}
		return ResultFailure
	default:
		delete(f.attempts, userID)
		return ResultIgnored
	}
}

// HashPassword returns the hex sha-256 of the plaintext, the format
// PASSWORD_HASH is stored in.
func HashPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
