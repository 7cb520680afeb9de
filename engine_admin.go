package authgate

import (
	"context"
)

// Administrative operations. Authorization is the caller's job at the
// transport boundary (middleware.Guard with RoleAdmin); the engine
// still records who acted through the caller identity.

// UserPage is one page of account records, newest first.
type UserPage struct {
	Users    []Profile `json:"users"`
	Total    int64     `json:"total"`
	Pages    int       `json:"pages"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

// ListUsers returns one page of accounts.
func (e *Engine) ListUsers(ctx context.Context, caller AuthResult, page, pageSize int) (*UserPage, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := e.Authorize(caller, RoleAdmin); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultAuditPageSize
	}
	if pageSize > maxAuditPageSize {
		pageSize = maxAuditPageSize
	}

	users, total, err := e.users.ListUsers(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}

	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &UserPage{
		Users:    profiles,
		Total:    total,
		Pages:    pages,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// UpdateUserRole assigns a new role. Takes effect on tokens minted
// after the change; outstanding access tokens keep their role until
// they expire.
func (e *Engine) UpdateUserRole(ctx context.Context, caller AuthResult, userID, role string) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}
	if err := e.Authorize(caller, RoleAdmin); err != nil {
		return Profile{}, err
	}
	if !ValidRole(role) {
		return Profile{}, ErrInvalidRole
	}

	user, err := e.users.UpdateRole(ctx, userID, role)
	if err != nil {
		return Profile{}, err
	}

	e.emitAudit(ctx, auditActionRoleUpdated, resourceUser, true, caller.UserID, caller.Email, user.ID, nil, func() map[string]any {
		return map[string]any{"role": role}
	})
	return user.Profile(), nil
}

// SetUserActive enables or disables an account. Disabling logs the
// user out everywhere; their refresh tokens die immediately and the
// access token runs out within its TTL.
func (e *Engine) SetUserActive(ctx context.Context, caller AuthResult, userID string, active bool) (Profile, error) {
	if !e.ready() {
		return Profile{}, ErrEngineNotReady
	}
	if err := e.Authorize(caller, RoleAdmin); err != nil {
		return Profile{}, err
	}

	user, err := e.users.SetActive(ctx, userID, active)
	if err != nil {
		return Profile{}, err
	}

	if !active {
		e.metricInc(MetricAccountDisabled)
		// Deactivation without session revocation would leave the
		// account live at the refresh boundary; surface the failure.
		if err := e.refreshStore.DeleteAllForUser(ctx, user.ID); err != nil {
			return Profile{}, err
		}
		e.metricInc(MetricSessionInvalidated)
	}

	e.emitAudit(ctx, auditActionStatusChanged, resourceUser, true, caller.UserID, caller.Email, user.ID, nil, func() map[string]any {
		return map[string]any{"active": active}
	})
	return user.Profile(), nil
}

// DeleteUser removes the account record and every open session.
func (e *Engine) DeleteUser(ctx context.Context, caller AuthResult, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.Authorize(caller, RoleAdmin); err != nil {
		return err
	}

	if err := e.refreshStore.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := e.users.DeleteUser(ctx, userID); err != nil {
		return err
	}

	e.metricInc(MetricAccountDeleted)
	e.emitAudit(ctx, auditActionUserDeleted, resourceUser, true, caller.UserID, caller.Email, userID, nil, nil)
	return nil
}
