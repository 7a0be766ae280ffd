package orchestrator

import (
	"context"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
	"github.com/iKryptonic/RBXStateMachine/internal/factory"
)

const replicationChannel = "entity-update"

// wireReplication connects a server-role entity's StateUpdated signal
// to the replication bridge: every commit's changes are filtered down
// to schema fields flagged replicate=true and broadcast, exactly the
// packet Commit produced, never a re-derived view.
func (o *Orchestrator) wireReplication(id string, e *entity.Entity, class *factory.EntityClass) {
	e.StateUpdated.Connect(func(args ...any) {
		if len(args) == 0 {
			return
		}
		changes, ok := args[0].(map[string]any)
		if !ok {
			return
		}
		o.broadcastChanges(id, changes, class)
	})
}

func (o *Orchestrator) broadcastChanges(id string, changes map[string]any, class *factory.EntityClass) {
	if o.broadcaster == nil {
		return
	}
	packet := make(map[string]any)
	for k, v := range changes {
		def, ok := class.Schema.Lookup(k)
		if ok && def.Replicate {
			packet[k] = v
		}
	}
	if len(packet) == 0 {
		return
	}
	if err := o.broadcaster.Broadcast(replicationChannel, map[string]any{
		"entity_id": id,
		"packet":    packet,
	}); err != nil {
		o.logger.Warn("orchestrator: broadcast for entity %q failed: %v", id, err)
	}
}

// ApplyReplicatedPacket is the client-side half of the replication
// bridge: external transport plumbing (a websocket read loop) calls
// this for every inbound EntityUpdate frame. If the entity is not yet
// known locally, the packet is dropped and a snapshot re-requested —
// mirroring "request snapshot and defer" from §4.4 — rather than
// buffered, since a dropped intermediate update is superseded by the
// snapshot's current state anyway.
func (o *Orchestrator) ApplyReplicatedPacket(entityID string, packet map[string]any) {
	e := o.GetEntity(entityID)
	if e == nil {
		o.logger.Warn("orchestrator: replication packet for unknown entity %q, requesting snapshot", entityID)
		o.requestEntitySnapshot()
		return
	}
	e.ApplyReplicated(packet)
}

func (o *Orchestrator) requestEntitySnapshot() {
	if o.requests == nil {
		return
	}
	snap, err := o.requests.Request(context.Background(), "request_entity_snapshot")
	if err != nil {
		o.logger.Warn("orchestrator: snapshot re-request failed: %v", err)
		return
	}
	o.seedFromSnapshot(snap)
}
