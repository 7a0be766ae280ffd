package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iKryptonic/RBXStateMachine/internal/diff"
)

// UpdateSettingsFunc lets an embedder wire update_settings to whatever
// config.Settings mutation it supports; StartServiceManagerAPI treats
// a nil func as "not configured" and returns an error for that request.
type UpdateSettingsFunc func(patch map[string]any) error

// StartServiceManagerAPI registers the standard admin request handlers
// on the configured RequestResponder: snapshot, request_entity_snapshot,
// update_settings, fsm, console_command, scheduler. Gating (token
// check, auth middleware) lives in the transport implementation, not
// here — this only wires the request names to runtime behavior.
func (o *Orchestrator) StartServiceManagerAPI(updateSettings UpdateSettingsFunc) {
	if o.requests == nil {
		o.logger.Warn("orchestrator: StartServiceManagerAPI called with no request transport configured")
		return
	}

	o.RegisterRequestHandler("snapshot", func(ctx context.Context, args ...any) (any, error) {
		return o.BuildEntitySnapshot(), nil
	})
	o.RegisterRequestHandler("request_entity_snapshot", func(ctx context.Context, args ...any) (any, error) {
		return o.BuildEntitySnapshot(), nil
	})

	o.RegisterRequestHandler("update_settings", func(ctx context.Context, args ...any) (any, error) {
		if updateSettings == nil {
			return nil, fmt.Errorf("orchestrator: update_settings not configured")
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("orchestrator: update_settings requires a patch argument")
		}
		patch, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("orchestrator: update_settings patch must be an object")
		}
		return nil, updateSettings(patch)
	})

	o.RegisterRequestHandler("fsm", o.handleFSMRequest)
	o.RegisterRequestHandler("scheduler", o.handleSchedulerRequest)
	o.RegisterRequestHandler("console_command", o.handleConsoleCommand)
}

func (o *Orchestrator) handleFSMRequest(ctx context.Context, args ...any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("orchestrator: fsm request requires (action, id)")
	}
	action, _ := args[0].(string)
	id, _ := args[1].(string)

	switch action {
	case "cancel":
		o.CancelStateMachine(id)
		return nil, nil
	case "cancel_all":
		o.CancelAll()
		return nil, nil
	case "retry":
		initialState := "Start"
		if len(args) >= 3 {
			if s, ok := args[2].(string); ok {
				initialState = s
			}
		}
		m, err := o.RetryStateMachine(id, initialState)
		if err != nil {
			return nil, err
		}
		return m.Current(), nil
	case "get":
		m := o.GetStateMachine(id)
		if m == nil {
			return nil, fmt.Errorf("orchestrator: no state machine registered for %q", id)
		}
		return m.Current(), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown fsm action %q", action)
	}
}

func (o *Orchestrator) handleSchedulerRequest(ctx context.Context, args ...any) (any, error) {
	action := "snapshot"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			action = s
		}
	}

	switch action {
	case "snapshot":
		return o.sched.Snapshot(), nil
	case "history":
		return o.sched.History(), nil
	case "clear":
		o.sched.Clear()
		return nil, nil
	case "reset":
		if len(args) < 2 {
			return nil, fmt.Errorf("orchestrator: scheduler reset requires a task name")
		}
		name, _ := args[1].(string)
		return o.sched.Reset(name), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown scheduler action %q", action)
	}
}

// handleConsoleCommand implements the admin console's single
// ungoverned escape hatch; today the only command wired is
// "diff-entities", which renders a colorized unified diff between two
// entities' Data snapshots using internal/diff's unified diff
// generator.
func (o *Orchestrator) handleConsoleCommand(ctx context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("orchestrator: console_command requires a command name")
	}
	name, _ := args[0].(string)

	switch name {
	case "diff-entities":
		if len(args) < 3 {
			return nil, fmt.Errorf("orchestrator: diff-entities requires (lhs id, rhs id)")
		}
		lhsID, _ := args[1].(string)
		rhsID, _ := args[2].(string)
		return o.diffEntities(lhsID, rhsID)
	default:
		return nil, fmt.Errorf("orchestrator: unknown console command %q", name)
	}
}

func (o *Orchestrator) diffEntities(lhsID, rhsID string) (*diff.DiffResult, error) {
	lhs := o.GetEntity(lhsID)
	if lhs == nil {
		return nil, fmt.Errorf("orchestrator: no entity registered for %q", lhsID)
	}
	rhs := o.GetEntity(rhsID)
	if rhs == nil {
		return nil, fmt.Errorf("orchestrator: no entity registered for %q", rhsID)
	}

	lhsJSON, err := json.MarshalIndent(lhs.SnapshotData(), "", "  ")
	if err != nil {
		return nil, err
	}
	rhsJSON, err := json.MarshalIndent(rhs.SnapshotData(), "", "  ")
	if err != nil {
		return nil, err
	}

	gen := diff.NewGenerator(3, true)
	return gen.GenerateUnified(string(lhsJSON), string(rhsJSON), fmt.Sprintf("%s..%s", lhsID, rhsID))
}
