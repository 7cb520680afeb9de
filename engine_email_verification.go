package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/altinors/authgate/internal"
	"github.com/altinors/authgate/internal/stores"
)

// SendVerificationEmail issues a single-use verification token for the
// account. Unlike ForgotPassword this endpoint is authenticated in
// practice, so unknown accounts and already-verified accounts report
// their real error.
func (e *Engine) SendVerificationEmail(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	token, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}

	record := &stores.SingleUseRecord{
		Email:     user.Email,
		UserID:    user.ID,
		Purpose:   stores.PurposeVerify,
		ExpiresAt: time.Now().Add(e.config.SingleUse.VerificationTTL).Unix(),
	}
	if err := e.singleUse.Save(ctx, internal.HashToken(token), record, e.config.SingleUse.VerificationTTL); err != nil {
		return err
	}

	if err := e.notifier.SendVerification(ctx, user.Email, token); err != nil {
		e.logger.Error().Err(err).Msg("verification delivery failed")
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditActionVerificationRequest, resourceAuth, true, user.ID, user.Email, user.ID, nil, nil)
	return nil
}

// VerifyEmail consumes a verification token and marks the account
// verified. A reset token presented here fails: purposes don't cross.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	record, err := e.singleUse.Consume(ctx, internal.HashToken(token), stores.PurposeVerify)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrSingleUseNotFound),
			errors.Is(err, stores.ErrSingleUseConsumed),
			errors.Is(err, stores.ErrSingleUseExpired):
			e.metricInc(MetricEmailVerificationFailure)
			e.emitAudit(ctx, auditActionEmailVerified, resourceAuth, false, "", "", "", ErrTokenInvalidOrExpired, nil)
			return ErrTokenInvalidOrExpired
		}
		return err
	}

	if err := e.users.SetVerified(ctx, record.UserID); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditActionEmailVerified, resourceAuth, true, record.UserID, record.Email, record.UserID, nil, nil)
	return nil
}
