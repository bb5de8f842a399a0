package vikauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), nil)
	ctx := context.Background()

	pair := loginPair(t, env, "guest@lodgegate.test", guestPassword)

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if challenge == "" {
		t.Fatal("expected a challenge for a known active account")
	}

	notices := env.notifier.byEvent(NotifyPasswordReset)
	if len(notices) != 1 || notices[0].meta["challenge"] != challenge {
		t.Fatalf("expected the challenge in the reset notification, got %+v", notices)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}

	if _, err := env.engine.Login(ctx, "guest@lodgegate.test", guestPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password rejected, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "guest@lodgegate.test", secondPassword); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}

	// Every pre-reset session is dead.
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected pre-reset session revoked, got %v", err)
	}

	// The challenge is single use.
	if err := env.engine.ConfirmPasswordReset(ctx, challenge, thirdPassword); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid on reuse, got %v", err)
	}
}

func TestPasswordResetUnknownEmailSucceedsEmpty(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), nil)

	challenge, err := env.engine.RequestPasswordReset(context.Background(), "nobody@lodgegate.test")
	if err != nil {
		t.Fatalf("expected success shape for unknown email, got %v", err)
	}
	if challenge != "" {
		t.Fatal("expected empty challenge for unknown email")
	}
	if len(env.notifier.byEvent(NotifyPasswordReset)) != 0 {
		t.Fatal("expected no notification for unknown email")
	}
}

func TestPasswordResetInactiveAccountSucceedsEmpty(t *testing.T) {
	account := guestAccount(t)
	account.Status = AccountDisabled
	env := newTestEnv(t, newMockProvider(account), nil)

	challenge, err := env.engine.RequestPasswordReset(context.Background(), account.Email)
	if err != nil || challenge != "" {
		t.Fatalf("expected empty success for disabled account, got %q, %v", challenge, err)
	}
}

func TestPasswordResetDisabled(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.PasswordReset.Enabled = false
	})

	if _, err := env.engine.RequestPasswordReset(context.Background(), "guest@lodgegate.test"); !errors.Is(err, ErrPasswordResetDisabled) {
		t.Fatalf("expected ErrPasswordResetDisabled, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(context.Background(), "anything", secondPassword); !errors.Is(err, ErrPasswordResetDisabled) {
		t.Fatalf("expected ErrPasswordResetDisabled on confirm, got %v", err)
	}
}

func TestPasswordResetPolicyRejectionKeepsChallenge(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), nil)
	ctx := context.Background()

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, challenge, "aaaaaaaa"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	// The rejected attempt must not burn the challenge.
	if err := env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword); err != nil {
		t.Fatalf("expected retry with a compliant password to pass, got %v", err)
	}
}

func TestPasswordResetExpiredChallenge(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), nil)
	ctx := context.Background()

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	env.clock.Advance(16 * time.Minute)

	if err := env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid after expiry, got %v", err)
	}
}

func TestPasswordResetMalformedChallenge(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), nil)

	err := env.engine.ConfirmPasswordReset(context.Background(), "definitely-not-a-challenge", secondPassword)
	if !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid, got %v", err)
	}
}

func TestPasswordResetOTPBurnsAttempts(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.PasswordReset.Strategy = ResetOTP
		cfg.PasswordReset.OTPDigits = 6
		cfg.PasswordReset.MaxAttempts = 2
	})
	ctx := context.Background()

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	parts := strings.SplitN(challenge, ".", 2)
	if len(parts) != 2 || len(parts[1]) != 6 {
		t.Fatalf("unexpected otp challenge shape: %q", challenge)
	}

	// Same record key, wrong code.
	wrongDigit := byte('0' + (parts[1][0]-'0'+1)%10)
	wrong := parts[0] + "." + string(wrongDigit) + parts[1][1:]

	if err := env.engine.ConfirmPasswordReset(ctx, wrong, secondPassword); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid on first wrong code, got %v", err)
	}
	if err := env.engine.ConfirmPasswordReset(ctx, wrong, secondPassword); !errors.Is(err, ErrPasswordResetAttempts) {
		t.Fatalf("expected ErrPasswordResetAttempts on budget exhaustion, got %v", err)
	}

	// The record is destroyed with its budget; even the right code is dead.
	if err := env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword); !errors.Is(err, ErrPasswordResetInvalid) {
		t.Fatalf("expected ErrPasswordResetInvalid after destruction, got %v", err)
	}
}

func TestPasswordResetUUIDStrategy(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.PasswordReset.Strategy = ResetUUID
	})
	ctx := context.Background()

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if len(challenge) != 36 {
		t.Fatalf("expected a canonical uuid challenge, got %q", challenge)
	}

	if err := env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, "guest@lodgegate.test", secondPassword); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
}

func TestPasswordResetConcurrentConfirmSingleWinner(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.RateLimits.ResetConfirm = RateLimitWindow{Window: time.Minute, Max: 100}
	})
	ctx := context.Background()

	challenge, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	const workers = 8
	results := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = env.engine.ConfirmPasswordReset(ctx, challenge, secondPassword)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrPasswordResetInvalid):
			// losers
		default:
			t.Fatalf("worker %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning confirmation, got %d", wins)
	}

	if _, err := env.engine.Login(ctx, "guest@lodgegate.test", secondPassword); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}
}

func TestPasswordResetRequestRateLimited(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.RateLimits.ResetRequest = RateLimitWindow{Window: time.Hour, Max: 2}
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	_, err := env.engine.RequestPasswordReset(ctx, "guest@lodgegate.test")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
