package vikauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/armanmishra1000/AirvikBook-sub000/internal"
	"github.com/armanmishra1000/AirvikBook-sub000/internal/stores"
	"github.com/google/uuid"
)

// RequestPasswordReset starts the unauthenticated forgot-password flow. The
// returned challenge must reach the account owner through an out-of-band
// channel only; for unknown or non-active accounts the call still succeeds
// with an empty challenge after a randomized delay, so neither the response
// shape nor its timing reveals whether the email is registered. Callers must
// present the same outward response in both cases.
//
// RequestPasswordReset may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.provider == nil || e.resetStore == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrPasswordResetDisabled
	}

	if err := e.checkLimit(ctx, "reset_request", email, e.config.RateLimits.ResetRequest); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "reset_request", "", func() map[string]string {
				return map[string]string{
					"identifier": email,
				}
			})
		}
		return "", err
	}

	account, err := e.getAccountByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return "", err
		}
		e.enumerationDelay(ctx)
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", nil, func() map[string]string {
			return map[string]string{
				"identifier": email,
				"reason":     "account_not_found",
			}
		})
		return "", nil
	}
	if accountStatusToError(account.Status) != nil {
		e.enumerationDelay(ctx)
		e.metricInc(MetricPasswordResetRequest)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, account.AccountID, "", nil, func() map[string]string {
			return map[string]string{
				"reason": "account_status",
			}
		})
		return "", nil
	}

	resetID, challenge, secretHash, err := e.generateResetChallenge()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	record := &stores.PasswordResetRecord{
		AccountID:  account.AccountID,
		SecretHash: secretHash,
		ExpiresAt:  e.now().Add(e.config.PasswordReset.ResetTTL).Unix(),
		Strategy:   int(e.config.PasswordReset.Strategy),
	}
	if err := e.resetStore.Save(ctx, resetID, record, e.config.PasswordReset.ResetTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.AccountID, "", nil, nil)
	e.notify(ctx, NotifyPasswordReset, account.Email, map[string]string{
		"challenge":   challenge,
		"ttl_minutes": strconv.Itoa(int(e.config.PasswordReset.ResetTTL.Minutes())),
	})

	return challenge, nil
}

// ConfirmPasswordReset consumes a reset challenge and commits the new
// password. The challenge is single use: of N concurrent confirmations with
// the same challenge exactly one commits, the rest fail with
// [ErrPasswordResetInvalid]. A wrong secret burns an attempt; exhausting the
// attempt budget destroys the challenge. Policy rejections do not consume
// the challenge, so the user can retry with a compliant password.
//
// ConfirmPasswordReset may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, challenge, newPassword string) error {
	if e == nil || e.provider == nil || e.resetStore == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}

	resetID, providedHash, err := parseResetChallenge(
		e.config.PasswordReset.Strategy,
		challenge,
		e.config.PasswordReset.OTPDigits,
	)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", ErrPasswordResetInvalid, func() map[string]string {
			return map[string]string{
				"reason": "challenge_parse_failed",
			}
		})
		return ErrPasswordResetInvalid
	}

	if err := e.checkLimit(ctx, "reset_confirm", resetID, e.config.RateLimits.ResetConfirm); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "reset_confirm", "", nil)
		}
		return err
	}

	// Look before consuming: a policy rejection of the new password must not
	// burn the single-use challenge.
	var record *stores.PasswordResetRecord
	err = e.retryRead(ctx, func(err error) bool {
		return errors.Is(err, stores.ErrResetRedisUnavailable)
	}, func() error {
		var err error
		record, err = e.resetStore.Get(ctx, resetID)
		return err
	})
	if err != nil {
		return e.mapResetStoreError(ctx, "", err)
	}

	account, err := e.getAccount(ctx, record.AccountID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, record.AccountID, "", ErrPasswordResetInvalid, func() map[string]string {
			return map[string]string{
				"reason": "account_not_found",
			}
		})
		return ErrPasswordResetInvalid
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, account.AccountID, "", statusErr, nil)
		return statusErr
	}

	if err := e.validateNewPassword(ctx, newPassword, account); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "policy",
			}
		})
		return err
	}

	if _, err := e.resetStore.Consume(
		ctx,
		resetID,
		providedHash,
		int(e.config.PasswordReset.Strategy),
		e.config.PasswordReset.MaxAttempts,
	); err != nil {
		return e.mapResetStoreError(ctx, account.AccountID, err)
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	newPassword = ""

	if err := e.commitPasswordHash(ctx, account.AccountID, newHash); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, account.AccountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "commit_failed",
			}
		})
		return err
	}

	if e.config.Security.RevokeSessionsOnPasswordReset && e.sessions != nil {
		if _, err := e.sessions.RevokeAllForAccount(ctx, account.AccountID); err != nil {
			e.metricInc(MetricPasswordResetConfirmFailure)
			e.emitAudit(ctx, auditEventPasswordResetConfirm, false, account.AccountID, "", err, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return errors.Join(fmt.Errorf("%w: session revocation after reset", ErrStoreUnavailable), err)
		}
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, account.AccountID, "", nil, nil)
	e.notify(ctx, NotifyPasswordChanged, account.Email, map[string]string{
		"via": "password_reset",
	})

	return nil
}

func (e *Engine) mapResetStoreError(ctx context.Context, accountID string, err error) error {
	switch {
	case errors.Is(err, stores.ErrResetAttemptsExceeded):
		e.metricInc(MetricPasswordResetAttemptsExceeded)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, "", ErrPasswordResetAttempts, func() map[string]string {
			return map[string]string{
				"reason": "attempts_exceeded",
			}
		})
		return ErrPasswordResetAttempts
	case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetSecretMismatch):
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, "", ErrPasswordResetInvalid, func() map[string]string {
			return map[string]string{
				"reason": "challenge_rejected",
			}
		})
		return ErrPasswordResetInvalid
	default:
		e.metricInc(MetricPasswordResetConfirmFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// generateResetChallenge mints (resetID, challenge, secretHash) for the
// configured strategy. Only the hash is stored; the challenge itself exists
// solely in the notification to the account owner.
func (e *Engine) generateResetChallenge() (string, string, [32]byte, error) {
	var emptyHash [32]byte

	switch e.config.PasswordReset.Strategy {
	case ResetToken:
		resetID, err := internal.NewTokenID()
		if err != nil {
			return "", "", emptyHash, err
		}
		secret, err := internal.NewSecret()
		if err != nil {
			return "", "", emptyHash, err
		}
		challenge, err := internal.EncodeOpaqueToken(resetID.String(), secret)
		if err != nil {
			return "", "", emptyHash, err
		}
		return resetID.String(), challenge, internal.HashSecret(secret), nil

	case ResetUUID:
		// The UUID doubles as record key and secret. Weaker than the opaque
		// token split but still 122 random bits, single use, short lived.
		resetID := uuid.New().String()
		return resetID, resetID, internal.HashSecretBytes([]byte(resetID)), nil

	case ResetOTP:
		resetID, err := internal.NewTokenID()
		if err != nil {
			return "", "", emptyHash, err
		}
		otp, err := internal.NewOTP(e.config.PasswordReset.OTPDigits)
		if err != nil {
			return "", "", emptyHash, err
		}
		return resetID.String(), resetID.String() + "." + otp, internal.HashSecretBytes([]byte(otp)), nil

	default:
		return "", "", emptyHash, fmt.Errorf("unsupported reset strategy")
	}
}

func parseResetChallenge(strategy ResetStrategyType, challenge string, otpDigits int) (string, [32]byte, error) {
	var emptyHash [32]byte

	switch strategy {
	case ResetToken:
		resetID, secret, err := internal.DecodeOpaqueToken(challenge)
		if err != nil {
			return "", emptyHash, err
		}
		return resetID, internal.HashSecret(secret), nil

	case ResetUUID:
		parsed, err := uuid.Parse(challenge)
		if err != nil {
			return "", emptyHash, err
		}
		resetID := parsed.String()
		return resetID, internal.HashSecretBytes([]byte(resetID)), nil

	case ResetOTP:
		parts := strings.SplitN(challenge, ".", 2)
		if len(parts) != 2 {
			return "", emptyHash, errors.New("invalid otp challenge format")
		}
		resetID, otp := parts[0], parts[1]
		if _, err := internal.ParseTokenID(resetID); err != nil {
			return "", emptyHash, err
		}
		if len(otp) != otpDigits || !isNumericString(otp) {
			return "", emptyHash, errors.New("invalid otp format")
		}
		return resetID, internal.HashSecretBytes([]byte(otp)), nil

	default:
		return "", emptyHash, errors.New("unsupported strategy")
	}
}

func isNumericString(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
