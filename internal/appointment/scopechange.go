package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope-change (amendment) workflow limits.
const (
	MaxScopeChangeAttachments    = 5
	MaxScopeChangeAttachmentSize = 25 << 20 // bytes
)

type ScopeChangeStatus string

const (
	ScopeChangePendingClientApproval ScopeChangeStatus = "PendingClientApproval"
	ScopeChangeApprovedByClient      ScopeChangeStatus = "ApprovedByClient"
	ScopeChangeRejectedByClient      ScopeChangeStatus = "RejectedByClient"
	ScopeChangeExpired               ScopeChangeStatus = "Expired"
)

// activeExecutionStatuses are the appointment statuses during which the
// assigned provider may open an amendment.
var activeExecutionStatuses = []Status{
	StatusConfirmed,
	StatusRescheduleConfirmed,
	StatusArrived,
	StatusInProgress,
}

func inActiveExecution(s Status) bool {
	for _, a := range activeExecutionStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// ScopeChangeRequest is a provider-initiated amendment that needs client
// approval before the extra scope and value take effect. Versions increment
// monotonically per appointment and chain to the previous version.
type ScopeChangeRequest struct {
	ID               uuid.UUID
	ServiceRequestID uuid.UUID
	AppointmentID    uuid.UUID
	ProviderID       uuid.UUID

	Version int
	Status  ScopeChangeStatus

	Reason                     string
	AdditionalScopeDescription string
	IncrementalValueCents      int64

	RequestedAt          time.Time
	ClientRespondedAt    *time.Time
	ClientResponseReason *string
	PreviousVersionID    *uuid.UUID

	Attachments []ScopeChangeAttachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimedOut reports whether a still-pending request has exceeded the
// response timeout.
func (s *ScopeChangeRequest) TimedOut(now time.Time, timeout time.Duration) bool {
	return s.Status == ScopeChangePendingClientApproval &&
		now.Sub(s.RequestedAt) > timeout
}

type ScopeChangeAttachment struct {
	ID                   uuid.UUID
	ScopeChangeRequestID uuid.UUID
	UploadedByUserID     uuid.UUID
	FileURL              string
	FileName             string
	ContentType          string
	MediaKind            string
	SizeBytes            int64
	CreatedAt            time.Time
}

// mediaKindFor classifies an attachment by its content type.
func mediaKindFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "document"
	}
}
