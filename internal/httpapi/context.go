package httpapi

import (
	"context"
)

// serverBaseCtx is cancelled at process shutdown so in-flight streams stop
// even while the client connection stays open. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level context handlers derive from.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context cancelled when either input is done. The
// returned cancel must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(b)
	if a.Done() == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(a, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
