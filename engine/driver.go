package engine

import (
	"context"
	"time"
)

// Driver is the UI automation capability the workflow runs against. A
// driver owns one portal session; calls may be slow and are treated as
// opaque blocking operations with no internal cancellation beyond ctx.
//
// Every method may fail transiently. The workflow decides per step whether
// a failure aborts the cycle or degrades to a fallback.
type Driver interface {
	// ConfirmConnection verifies the external account connection is
	// active. A nil error means the connection affordance was found.
	ConfirmConnection(ctx context.Context) error

	// ApplyRecentFilter asks the portal to filter to the most recent
	// span of the given length.
	ApplyRecentFilter(ctx context.Context, span time.Duration) error

	// AppliedWindow reads the range the portal actually applied. The
	// boolean is false when the portal does not display one.
	AppliedWindow(ctx context.Context) (Window, bool, error)

	// TriggerProcessing invokes the remote processing action for the
	// given window.
	TriggerProcessing(ctx context.Context, w Window) error
}
