package schema

import (
	"time"

	// Packages
	types "github.com/mutablelogic/go-server/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// CONSTANTS

const (
	// Notification event names published when an upload reaches a terminal
	// state. Subscribers should switch on these names.

	// UploadCompleteEvent is sent when at least one file was processed.
	// Payload: Event
	UploadCompleteEvent = "upload.complete"

	// UploadFailedEvent is sent when no file could be processed.
	// Payload: Event
	UploadFailedEvent = "upload.failed"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Event is the payload of a notification.
type Event struct {
	Type      string         `json:"type"`
	UploadID  string         `json:"upload_id"`
	Owner     string         `json:"owner,omitempty"`
	Status    CompleteStatus `json:"status"`
	Receipt   string         `json:"pacs_receipt_id,omitempty"`
	Processed int            `json:"processed_files"`
	Failed    int            `json:"failed_files"`
	Warnings  []string       `json:"warnings,omitempty"`
	Studies   []string       `json:"studies,omitempty"` // study instance UIDs of processed files
	Time      time.Time      `json:"time"`
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewEvent returns the notification for a completed upload.
func NewEvent(owner string, resp *CompleteResponse, now time.Time) Event {
	event := Event{
		Type:      UploadCompleteEvent,
		UploadID:  resp.ID,
		Owner:     owner,
		Status:    resp.Status,
		Receipt:   resp.Receipt,
		Processed: resp.Processed,
		Failed:    resp.Failed,
		Warnings:  resp.Warnings,
		Time:      now,
	}
	if resp.Status == StatusFailed {
		event.Type = UploadFailedEvent
	}
	seen := make(map[string]bool)
	for _, f := range resp.Files {
		if f.Study != nil && f.Study.StudyInstanceUID != "" && !seen[f.Study.StudyInstanceUID] {
			seen[f.Study.StudyInstanceUID] = true
			event.Studies = append(event.Studies, f.Study.StudyInstanceUID)
		}
	}
	return event
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (e Event) String() string {
	return types.Stringify(e)
}
