package models

type PrincipalRole string

const (
	PrincipalRoleAdmin   PrincipalRole = "ADMIN"
	PrincipalRoleManager PrincipalRole = "MANAGER"
	PrincipalRoleLead    PrincipalRole = "LEAD"
	PrincipalRoleStore   PrincipalRole = "STORE"
)

// IsManagement reports whether the role carries global scope. Leads get
// the management surface too; only store logins are store-scoped.
func (r PrincipalRole) IsManagement() bool {
	return r == PrincipalRoleAdmin || r == PrincipalRoleManager || r == PrincipalRoleLead
}

// IsAdmin gates the mutating management operations (group admin, unlock,
// purge, forced counts). Leads only get the read surface.
func (r PrincipalRole) IsAdmin() bool {
	return r == PrincipalRoleAdmin || r == PrincipalRoleManager
}

type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "DRAFT"
	SessionStatusSubmitted SessionStatus = "SUBMITTED"
)

type SnapshotSectionType string

const (
	SnapshotSectionCategory SnapshotSectionType = "CATEGORY"
	SnapshotSectionRecount  SnapshotSectionType = "RECOUNT"
)

// Outbox publish statuses for PubSubMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Audit actions written by the count-session lifecycle. The audit row is
// created inside the same transaction as the state change it documents.
const (
	AuditActionSessionGenerated         = "COUNT_SESSION_GENERATED"
	AuditActionSessionDraftSaved        = "COUNT_SESSION_DRAFT_SAVED"
	AuditActionSessionSubmitted         = "COUNT_SESSION_SUBMITTED"
	AuditActionSessionUnlocked          = "COUNT_SESSION_UNLOCKED"
	AuditActionSessionsPurged           = "COUNT_SESSIONS_PURGED"
	AuditActionInventoryUpdateConfirmed = "INVENTORY_UPDATE_CONFIRMED"
	AuditActionForcedCountCreated       = "FORCED_COUNT_CREATED"
	AuditActionCountGroupCreated        = "COUNT_GROUP_CREATED"
	AuditActionCountGroupUpdated        = "COUNT_GROUP_UPDATED"
	AuditActionCountGroupDeactivated    = "COUNT_GROUP_DEACTIVATED"
	AuditActionRotationPointerSet       = "ROTATION_POINTER_SET"
)
