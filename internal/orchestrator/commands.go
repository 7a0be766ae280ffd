package orchestrator

import (
	"context"
	"fmt"

	"github.com/iKryptonic/RBXStateMachine/internal/transport"
)

// SendCommand fires entity_id/cmd/args at the server over the
// configured CommandSender. Client-side only: per §4.4 this is a
// no-op on a server-role Orchestrator, since commands flow
// client→server and a server has nothing to send them to.
func (o *Orchestrator) SendCommand(entityID, cmd string, args ...any) error {
	if o.role != RoleClient {
		return nil
	}
	if o.commandSend == nil {
		return fmt.Errorf("orchestrator: no command transport configured")
	}
	return o.commandSend.SendCommand(entityID, cmd, args...)
}

// RegisterCommandHandler installs handler for (entityID, cmd) on the
// configured CommandReceiver. Server-side only.
func (o *Orchestrator) RegisterCommandHandler(entityID, cmd string, handler func(entityID string, args []any)) {
	if o.role != RoleServer || o.commandRecv == nil {
		return
	}
	o.commandRecv.RegisterCommandHandler(entityID, cmd, handler)
}

// RegisterRequestHandler installs a named ServiceManager-style handler
// on the configured RequestResponder.
func (o *Orchestrator) RegisterRequestHandler(name string, handler transport.RequestHandler) {
	if o.requests == nil {
		return
	}
	o.requests.RegisterHandler(name, handler)
}

// Request issues a named ServiceManager request through the
// configured RequestResponder. Client-side use is the documented one,
// but nothing prevents a server from calling its own handlers this way
// in tests.
func (o *Orchestrator) Request(ctx context.Context, name string, args ...any) (any, error) {
	if o.requests == nil {
		return nil, fmt.Errorf("orchestrator: no request transport configured")
	}
	return o.requests.Request(ctx, name, args...)
}
