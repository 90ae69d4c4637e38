package auth

import (
	"sync"
	"testing"
)

func testCreds() Credentials {
	return Credentials{Login: "admin", PasswordHash: HashPassword("secret")}
}

func TestHashPassword(t *testing.T) {
	t.Parallel()
	// sha256("secret"), the format PASSWORD_HASH is stored in.
	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := HashPassword("secret"); got != want {
		t.Fatalf("HashPassword = %s, want %s", got, want)
	}
}

func TestFlowHappyPath(t *testing.T) {
	t.Parallel()
	sessions := NewSessions()
	f := NewFlow(testCreds(), sessions)

	if got := f.Submit(1, "admin"); got != ResultIgnored {
		t.Fatalf("Submit before Begin = %v, want ResultIgnored", got)
	}

	f.Begin(1)
	if got := f.Stage(1); got != StageLogin {
		t.Fatalf("Stage after Begin = %v, want StageLogin", got)
	}
	if got := f.Submit(1, "admin"); got != ResultAskPassword {
		t.Fatalf("Submit(login) = %v, want ResultAskPassword", got)
	}
	if got := f.Stage(1); got != StagePassword {
		t.Fatalf("Stage after login = %v, want StagePassword", got)
	}
	if got := f.Submit(1, "secret"); got != ResultSuccess {
		t.Fatalf("Submit(password) = %v, want ResultSuccess", got)
	}
	if !sessions.Authenticated(1) {
		t.Fatal("session missing after success")
	}
	if got := f.Stage(1); got != StageIdle {
		t.Fatalf("Stage after success = %v, want StageIdle", got)
	}
}

func TestFlowFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		login    string
		password string
	}{
		{name: "wrong password", login: "admin", password: "nope"},
		{name: "wrong login", login: "root", password: "secret"},
		{name: "both wrong", login: "root", password: "nope"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sessions := NewSessions()
			f := NewFlow(testCreds(), sessions)

			f.Begin(1)
			f.Submit(1, tt.login)
			if got := f.Submit(1, tt.password); got != ResultFailure {
				t.Fatalf("Submit = %v, want ResultFailure", got)
			}
			if sessions.Authenticated(1) {
				t.Fatal("session must not exist after failure")
			}
			// Attempt is cleared; a stray message is ignored.
			if got := f.Submit(1, "anything"); got != ResultIgnored {
				t.Fatalf("Submit after failure = %v, want ResultIgnored", got)
			}
		})
	}
}

func TestFlowCancelAndRestart(t *testing.T) {
	t.Parallel()
	sessions := NewSessions()
	f := NewFlow(testCreds(), sessions)

	f.Begin(1)
	f.Submit(1, "admin")
	f.Cancel(1)
	if got := f.Stage(1); got != StageIdle {
		t.Fatalf("Stage after Cancel = %v, want StageIdle", got)
	}

	// /start mid-dialog restarts from the login prompt.
	f.Begin(1)
	f.Submit(1, "admin")
	f.Begin(1)
	if got := f.Submit(1, "admin"); got != ResultAskPassword {
		t.Fatalf("Submit after restart = %v, want ResultAskPassword", got)
	}
}

func TestFlowApplySwapsCredentials(t *testing.T) {
	t.Parallel()
	sessions := NewSessions()
	f := NewFlow(testCreds(), sessions)

	f.Begin(1)
	f.Submit(1, "admin")
	f.Apply(Credentials{Login: "admin", PasswordHash: HashPassword("rotated")})
	if got := f.Submit(1, "secret"); got != ResultFailure {
		t.Fatalf("old password after rotation = %v, want ResultFailure", got)
	}

	f.Begin(1)
	f.Submit(1, "admin")
	if got := f.Submit(1, "rotated"); got != ResultSuccess {
		t.Fatalf("new password after rotation = %v, want ResultSuccess", got)
	}
}

func TestFlowUsersAreIndependent(t *testing.T) {
	t.Parallel()
	sessions := NewSessions()
	f := NewFlow(testCreds(), sessions)

	f.Begin(1)
	f.Begin(2)
	f.Submit(1, "admin")

	if got := f.Stage(1); got != StagePassword {
		t.Fatalf("Stage(1) = %v, want StagePassword", got)
	}
	if got := f.Stage(2); got != StageLogin {
		t.Fatalf("Stage(2) = %v, want StageLogin", got)
	}
}

func TestSessionsConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := NewSessions()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := int64(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(id)
			_ = s.Authenticated(id)
		}()
	}
	wg.Wait()

	if got := s.Len(); got != 8 {
		t.Fatalf("Len = %d, want 8", got)
	}
	if s.Authenticated(99) {
		t.Fatal("unknown user reported as authenticated")
	}
}
