package orchestrator

import "encoding/json"

// EntitySnapshot is the minimum information a client needs to seed or
// refresh a local entity: class, id, the current schema-valued Data,
// and any persist-flagged fields (which overlap Data but are called
// out separately per §4.4's snapshot protocol wording). OwnerID is part
// of the wire shape, but BuildEntitySnapshot does not fill it, so it is
// absent from the payloads it builds, and seedFromSnapshot ignores it.
type EntitySnapshot struct {
	Class   string         `json:"class"`
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id,omitempty"`
	Data    map[string]any `json:"data"`
	Persist map[string]any `json:"persist,omitempty"`
}

// EntitySnapshotPayload is the full server response to a
// "request_entity_snapshot" ServiceManager request.
type EntitySnapshotPayload struct {
	Entities []EntitySnapshot `json:"entities"`
}

// BuildEntitySnapshot returns the minimum reconstruction payload for
// every currently registered entity, server-side.
func (o *Orchestrator) BuildEntitySnapshot() EntitySnapshotPayload {
	o.mu.RLock()
	defer o.mu.RUnlock()

	payload := EntitySnapshotPayload{}
	for id, e := range o.entities {
		payload.Entities = append(payload.Entities, EntitySnapshot{
			Class:   e.Name(),
			ID:      id,
			Data:    e.SnapshotData(),
			Persist: e.Serialize(),
		})
	}
	return payload
}

// seedFromSnapshot applies a client-received EntitySnapshotPayload to
// already-registered local entities. raw arrives as an
// EntitySnapshotPayload when requests.Request() was served in-process
// (tests, same-binary embedding) and as a generic map[string]any when
// it crossed the wire through the ServiceManager's JSON client; the
// latter is re-decoded via its JSON encoding rather than hand-walked,
// since struct tags already describe the shape. An id with no local
// registration is logged and skipped: the core registry has no way to
// fabricate the bound object handle a new local Entity requires, so
// first-seen entities must be created by the embedder (e.g. on
// spawning the corresponding client-side Instance) before they can be
// seeded.
func (o *Orchestrator) seedFromSnapshot(raw any) {
	payload, ok := raw.(EntitySnapshotPayload)
	if !ok {
		decoded, err := decodeSnapshotPayload(raw)
		if err != nil {
			o.logger.Warn("orchestrator: snapshot payload has unexpected shape %T: %v", raw, err)
			return
		}
		payload = decoded
	}
	for _, snap := range payload.Entities {
		e := o.GetEntity(snap.ID)
		if e == nil {
			o.logger.Warn("orchestrator: snapshot references unregistered entity %q (class %q); embedder must create it first", snap.ID, snap.Class)
			continue
		}
		e.Deserialize(snap.Data)
	}
}

func decodeSnapshotPayload(raw any) (EntitySnapshotPayload, error) {
	var payload EntitySnapshotPayload
	buf, err := json.Marshal(raw)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(buf, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
