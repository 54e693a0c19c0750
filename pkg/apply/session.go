package apply

import (
	"context"

	"github.com/easzlab/fbxrules/pkg/freebox"
	"github.com/easzlab/fbxrules/pkg/reconcile"
)

// Session is an authenticated device handle that must be closed after use.
type Session interface {
	reconcile.LeaseStore
	reconcile.PortForwardStore
	Close(ctx context.Context) error
}

// Opener yields a fresh Session for each invocation or pass.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Session, error)

// Open calls f(ctx).
func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// ClientOpener opens sessions on a Freebox client.
func ClientOpener(client *freebox.Client) Opener {
	return OpenerFunc(func(ctx context.Context) (Session, error) {
		session, err := client.Open(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}
