package authgate

import (
	"context"
	"time"

	internalaudit "github.com/altinors/authgate/internal/audit"
)

// Audit action vocabulary. Actions are a closed set so queries can
// filter on exact values.
const (
	auditActionRegister             = "USER_REGISTERED"
	auditActionLogin                = "USER_LOGIN"
	auditActionRefresh              = "TOKEN_REFRESHED"
	auditActionLogout               = "USER_LOGOUT"
	auditActionLogoutAll            = "USER_LOGOUT_ALL"
	auditActionPasswordResetRequest = "PASSWORD_RESET_REQUESTED"
	auditActionPasswordReset        = "PASSWORD_RESET"
	auditActionVerificationRequest  = "EMAIL_VERIFICATION_REQUESTED"
	auditActionEmailVerified        = "EMAIL_VERIFIED"
	auditActionPasswordChanged      = "PASSWORD_CHANGED"
	auditActionProfileUpdated       = "PROFILE_UPDATED"
	auditActionRoleUpdated          = "USER_ROLE_UPDATED"
	auditActionStatusChanged        = "USER_STATUS_CHANGED"
	auditActionUserDeleted          = "USER_DELETED"
	auditActionAuditViewed          = "AUDIT_LOGS_VIEWED"
)

// Audit resource vocabulary.
const (
	resourceAuth  = "auth"
	resourceUser  = "user"
	resourceAudit = "audit"
)

// emitAudit queues one audit event. detailsFn is only invoked when
// auditing is enabled, so detail maps cost nothing on the disabled
// path. Never blocks the calling operation.
func (e *Engine) emitAudit(
	ctx context.Context,
	action, resource string,
	success bool,
	userID, email, resourceID string,
	opErr error,
	detailsFn func() map[string]any,
) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		UserID:     userID,
		UserEmail:  email,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if detailsFn != nil {
		event.Details = internalaudit.Sanitize(detailsFn())
	}

	e.audit.Emit(ctx, event)
}

// RecordAuditEvent queues an externally built event, e.g. from the
// HTTP capture middleware. Details are sanitized and the timestamp,
// client IP, and user agent are filled in when absent.
func (e *Engine) RecordAuditEvent(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.IPAddress == "" {
		event.IPAddress = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	event.Details = internalaudit.Sanitize(event.Details)

	e.audit.Emit(ctx, event)
}

const (
	defaultAuditPageSize = 20
	maxAuditPageSize     = 100
)

// ListAuditEvents returns one page of the audit trail, newest first.
// Callers without the ADMIN role are force-scoped to their own events
// regardless of the filter they pass.
func (e *Engine) ListAuditEvents(ctx context.Context, caller AuthResult, q AuditQuery) (*AuditPage, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.auditStore == nil {
		return nil, ErrStoreUnavailable
	}
	if err := e.Authorize(caller); err != nil {
		return nil, err
	}

	if caller.Role != RoleAdmin {
		q.UserID = caller.UserID
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultAuditPageSize
	}
	if q.PageSize > maxAuditPageSize {
		q.PageSize = maxAuditPageSize
	}

	page, err := e.auditStore.List(ctx, q)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditActionAuditViewed, resourceAudit, true, caller.UserID, caller.Email, "", nil, func() map[string]any {
		return map[string]any{
			"page":     q.Page,
			"pageSize": q.PageSize,
		}
	})

	return page, nil
}
