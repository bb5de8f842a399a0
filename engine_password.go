package vikauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/armanmishra1000/AirvikBook-sub000/internal/stores"
	"github.com/armanmishra1000/AirvikBook-sub000/password"
)

// historyChecker adapts the Redis password-history store to the pipeline's
// [password.HistoryChecker] capability. Each stored hash costs one argon2
// verification, which is why the history depth is bounded by config.
type historyChecker struct {
	engine *Engine
}

func (h historyChecker) MatchesRecent(ctx context.Context, accountID, candidate string, depth int) (bool, error) {
	var hashes []string
	err := h.engine.retryRead(ctx, func(err error) bool {
		return errors.Is(err, stores.ErrHistoryRedisUnavailable)
	}, func() error {
		var err error
		hashes, err = h.engine.history.LastN(ctx, accountID, depth)
		return err
	})
	if err != nil {
		return false, err
	}
	for _, hash := range hashes {
		ok, err := h.engine.hasher.Verify(candidate, hash)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// validateNewPassword runs the full policy pipeline against the candidate.
// A history match surfaces as [ErrPasswordReuse]; every other rejection
// carries the complete violation list through [PolicyError].
func (e *Engine) validateNewPassword(ctx context.Context, candidate string, account AccountRecord) error {
	acctCtx := &password.AccountContext{
		AccountID: account.AccountID,
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	}

	var checker password.HistoryChecker
	if e.history != nil && e.config.Password.Policy.HistoryDepth > 0 {
		checker = historyChecker{engine: e}
	}

	result, err := password.Validate(ctx, candidate, e.config.Password.Policy, acctCtx, checker)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if result.Valid {
		return nil
	}

	for _, v := range result.Violations {
		if v.Code == password.ViolationHistoryReuse {
			return ErrPasswordReuse
		}
	}

	return &PolicyError{
		Violations: result.Violations,
		Score:      result.Score,
		Label:      result.Label,
	}
}

// commitPasswordHash persists the new hash and appends it to the account's
// password history. The history append is best-effort: a failed append never
// rolls back a committed password.
func (e *Engine) commitPasswordHash(ctx context.Context, accountID, newHash string) error {
	if err := e.provider.UpdatePasswordHash(ctx, accountID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if e.history != nil && e.config.Password.Policy.HistoryDepth > 0 {
		if err := e.history.Append(ctx, accountID, newHash); err != nil {
			log.Print("vikauth: password history append failed")
		}
	}
	return nil
}

// ChangePassword replaces an account's password after verifying the current
// one. Existing sessions stay alive; use [Engine.ChangePasswordWithRevocation]
// to end other devices in the same call.
//
// ChangePassword may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	return e.changePassword(ctx, accountID, currentPassword, newPassword, false, "")
}

// ChangePasswordWithRevocation changes the password and revokes every other
// session of the account. keepSessionID preserves the caller's own session;
// empty revokes all of them.
//
// ChangePasswordWithRevocation may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) ChangePasswordWithRevocation(ctx context.Context, accountID, currentPassword, newPassword, keepSessionID string) error {
	return e.changePassword(ctx, accountID, currentPassword, newPassword, true, keepSessionID)
}

func (e *Engine) changePassword(ctx context.Context, accountID, currentPassword, newPassword string, revokeOthers bool, keepSessionID string) error {
	if e == nil || e.hasher == nil || e.provider == nil {
		return ErrEngineNotReady
	}

	if err := e.checkLimit(ctx, "password_change", accountID, e.config.RateLimits.PasswordChange); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "password_change", accountID, nil)
		}
		return err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
		return err
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", statusErr, nil)
		return statusErr
	}
	if !account.HasPassword() {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrNoPasswordSet, nil)
		return ErrNoPasswordSet
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if same, err := e.hasher.Verify(newPassword, account.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrPasswordReuse, func() map[string]string {
			return map[string]string{
				"reason": "same_as_current",
			}
		})
		return ErrPasswordReuse
	}

	if err := e.validateNewPassword(ctx, newPassword, account); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "policy",
			}
		})
		return err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "hash_failed",
			}
		})
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	currentPassword = ""
	newPassword = ""

	if err := e.commitPasswordHash(ctx, accountID, newHash); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "commit_failed",
			}
		})
		return err
	}

	if revokeOthers && e.sessions != nil {
		if _, err := e.sessions.RevokeAllExcept(ctx, accountID, keepSessionID); err != nil {
			// The password is committed at this point; a revocation failure
			// is reported but does not undo the change.
			log.Print("vikauth: session revocation failed after password change")
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, accountID, "", nil, nil)
	e.notify(ctx, NotifyPasswordChanged, account.Email, map[string]string{
		"changed_at": e.now().UTC().Format(time.RFC3339),
	})

	return nil
}

// SetPassword adds a password credential to a federated-only account, moving
// it to the mixed authentication type. Accounts that already hold a password
// get [ErrPasswordAlreadySet]; they must use [Engine.ChangePassword].
//
// SetPassword may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) SetPassword(ctx context.Context, accountID, newPassword string) error {
	if e == nil || e.hasher == nil || e.provider == nil {
		return ErrEngineNotReady
	}

	if err := e.checkLimit(ctx, "password_change", accountID, e.config.RateLimits.PasswordChange); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitRateLimit(ctx, "password_change", accountID, nil)
		}
		return err
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
		return err
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", statusErr, nil)
		return statusErr
	}
	if account.HasPassword() {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrPasswordAlreadySet, nil)
		return ErrPasswordAlreadySet
	}

	if err := e.validateNewPassword(ctx, newPassword, account); err != nil {
		e.metricInc(MetricPasswordChangeRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "policy",
			}
		})
		return err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	newPassword = ""

	if err := e.commitPasswordHash(ctx, accountID, newHash); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "commit_failed",
			}
		})
		return err
	}

	e.metricInc(MetricPasswordSet)
	e.emitAudit(ctx, auditEventPasswordSet, true, accountID, "", nil, nil)
	e.notify(ctx, NotifyPasswordSet, account.Email, nil)

	return nil
}

// RemovePassword drops the password credential from a mixed account, leaving
// it federated-only. The current password must be presented, another
// authentication method must remain, and every session is revoked because
// the credential that minted them no longer exists.
//
// RemovePassword may return an error when input validation, dependency calls, or security checks fail.
func (e *Engine) RemovePassword(ctx context.Context, accountID, currentPassword string) error {
	if e == nil || e.hasher == nil || e.provider == nil {
		return ErrEngineNotReady
	}

	account, err := e.getAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
		return err
	}
	if statusErr := accountStatusToError(account.Status); statusErr != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", statusErr, nil)
		return statusErr
	}
	if !account.HasPassword() {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrNoPasswordSet, nil)
		return ErrNoPasswordSet
	}
	if !account.HasFederatedAuth {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrPasswordSoleAuthMethod, nil)
		return ErrPasswordSoleAuthMethod
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	currentPassword = ""

	if err := e.provider.ClearPasswordHash(ctx, accountID); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "clear_failed",
			}
		})
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.sessions != nil {
		if _, err := e.sessions.RevokeAllForAccount(ctx, accountID); err != nil {
			log.Print("vikauth: session revocation failed after password removal")
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, func() map[string]string {
				return map[string]string{
					"reason": "revocation_failed",
				}
			})
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	e.metricInc(MetricPasswordRemoved)
	e.emitAudit(ctx, auditEventPasswordRemoved, true, accountID, "", nil, nil)
	e.notify(ctx, NotifyPasswordRemoved, account.Email, nil)

	return nil
}
