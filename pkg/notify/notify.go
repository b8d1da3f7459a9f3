package notify

import (
	"context"
	"errors"

	// Packages
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Log writes events to a logger
type Log struct {
	relaypacs.Logger
}

// Multi sends each event to every notifier
type Multi []relaypacs.Notifier

var _ relaypacs.Notifier = Log{}
var _ relaypacs.Notifier = Multi{}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (l Log) Notify(ctx context.Context, event schema.Event) error {
	if l.Logger == nil {
		return nil
	}
	if event.Receipt != "" {
		l.Printf(ctx, "%s: upload %s %s (processed=%d failed=%d receipt=%s)", event.Type, event.UploadID, event.Status, event.Processed, event.Failed, event.Receipt)
	} else {
		l.Printf(ctx, "%s: upload %s %s (processed=%d failed=%d)", event.Type, event.UploadID, event.Status, event.Processed, event.Failed)
	}
	return nil
}

// Notify calls every notifier, even when an earlier one fails, and returns
// the joined errors
func (m Multi) Notify(ctx context.Context, event schema.Event) error {
	var result error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}
