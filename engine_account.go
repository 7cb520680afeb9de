package authgate

import (
	"context"
	"strings"
)

// ChangePassword verifies the current password, installs the new hash,
// and invalidates every open session. The new password may equal the
// old one; no password history is kept.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidCurrent)
		e.emitAudit(ctx, auditActionPasswordChanged, resourceUser, false, user.ID, user.Email, user.ID, ErrInvalidCredentials, func() map[string]any {
			return map[string]any{"reason": "wrong_current_password"}
		})
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	// The new hash is already installed; a failure invalidating the
	// open sessions must surface so the caller knows they may survive.
	if err := e.refreshStore.DeleteAllForUser(ctx, user.ID); err != nil {
		e.emitAudit(ctx, auditActionPasswordChanged, resourceUser, false, user.ID, user.Email, user.ID, err, func() map[string]any {
			return map[string]any{"reason": "session_invalidation_failed"}
		})
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditActionPasswordChanged, resourceUser, true, user.ID, user.Email, user.ID, nil, nil)
	return nil
}

// GetProfile returns the account record without credential material.
func (e *Engine) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile(), nil
}

// UpdateProfile changes the display name. Email and role are not
// self-service; role changes go through UpdateUserRole.
func (e *Engine) UpdateProfile(ctx context.Context, userID, name string) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, errInvalidName
	}

	user, err := e.users.UpdateName(ctx, userID, name)
	if err != nil {
		return Profile{}, err
	}

	e.emitAudit(ctx, auditActionProfileUpdated, resourceUser, true, user.ID, user.Email, user.ID, nil, func() map[string]any {
		return map[string]any{"name": name}
	})
	return user.Profile(), nil
}
