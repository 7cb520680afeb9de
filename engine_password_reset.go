package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/altinors/authgate/internal"
	"github.com/altinors/authgate/internal/stores"
)

// ForgotPassword issues a single-use reset token and hands it to the
// notifier. The outcome is identical whether or not the email belongs
// to an account, so the endpoint cannot be used to enumerate accounts;
// only the audit trail distinguishes the two.
func (e *Engine) ForgotPassword(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditActionPasswordResetRequest, resourceAuth, false, "", email, "", ErrUserNotFound, func() map[string]any {
				return map[string]any{"reason": "unknown_email"}
			})
			return nil
		}
		return err
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}

	record := &stores.SingleUseRecord{
		Email:     user.Email,
		UserID:    user.ID,
		Purpose:   stores.PurposeReset,
		ExpiresAt: time.Now().Add(e.config.SingleUse.ResetTTL).Unix(),
	}
	if err := e.singleUse.Save(ctx, internal.HashToken(token), record, e.config.SingleUse.ResetTTL); err != nil {
		return err
	}

	if err := e.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		e.logger.Error().Err(err).Msg("password reset delivery failed")
	}

	e.emitAudit(ctx, auditActionPasswordResetRequest, resourceAuth, true, user.ID, user.Email, user.ID, nil, nil)
	return nil
}

// ResetPassword consumes a reset token, installs the new password
// hash, and invalidates every open session of the account. Consuming
// is atomic: a token is good for exactly one reset.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	record, err := e.singleUse.Consume(ctx, internal.HashToken(token), stores.PurposeReset)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrSingleUseNotFound),
			errors.Is(err, stores.ErrSingleUseConsumed),
			errors.Is(err, stores.ErrSingleUseExpired):
			e.metricInc(MetricPasswordResetConfirmFailure)
			e.emitAudit(ctx, auditActionPasswordReset, resourceAuth, false, "", "", "", ErrTokenInvalidOrExpired, nil)
			return ErrTokenInvalidOrExpired
		}
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}

	if err := e.users.UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		return err
	}

	// All sessions die with the old password. The new hash is already
	// installed at this point; a store failure here must surface so the
	// caller knows old sessions may have survived.
	if err := e.refreshStore.DeleteAllForUser(ctx, record.UserID); err != nil {
		e.metricInc(MetricPasswordResetConfirmFailure)
		e.emitAudit(ctx, auditActionPasswordReset, resourceAuth, false, record.UserID, record.Email, record.UserID, err, func() map[string]any {
			return map[string]any{"reason": "session_invalidation_failed"}
		})
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditActionPasswordReset, resourceAuth, true, record.UserID, record.Email, record.UserID, nil, nil)
	return nil
}
