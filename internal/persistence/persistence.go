// Package persistence implements the runtime's §4.7 controller: a
// versioned save/load/update/delete envelope over an Entity's
// serialize/deserialize pair, backed by the kvstore adapter. Loads
// collapse concurrent callers for the same key via singleflight, and
// a malformed stored payload gets one jsonrepair pass before the
// controller gives up and surfaces PersistenceFailure.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/singleflight"

	"github.com/iKryptonic/RBXStateMachine/internal/entity"
	"github.com/iKryptonic/RBXStateMachine/internal/kvstore"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// EnvelopeVersion is the current on-wire payload version. Future
// migrations branch on Envelope.Version inside Load, before merging
// decoded data into the entity.
const EnvelopeVersion = 1

// Envelope is the versioned, store-opaque payload every save/load
// round-trips, exactly as specified on the wire so migrations have a
// version field to branch on.
type Envelope struct {
	Version   int            `json:"version"`
	UpdatedAt int64          `json:"updated_at"`
	Data      map[string]any `json:"data"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Config binds a Controller to a store name and optional key prefix.
type Config struct {
	StoreName string
	KeyPrefix string
}

// Controller is the persistence controller described in §4.7.
type Controller struct {
	config  Config
	store   *kvstore.Adapter
	logger  logging.Logger
	loadSF  singleflight.Group
}

// New builds a Controller over the given kvstore adapter.
func New(config Config, store *kvstore.Adapter, logger logging.Logger) *Controller {
	return &Controller{
		config: config,
		store:  store,
		logger: logging.OrNop(logger),
	}
}

func (c *Controller) storeKey(key string) string {
	if c.config.KeyPrefix == "" {
		return key
	}
	return c.config.KeyPrefix + key
}

// Save serializes e's persist=true fields, wraps them in an Envelope,
// and writes it to the store under key.
func (c *Controller) Save(ctx context.Context, e *entity.Entity, key string, meta map[string]any) (bool, error) {
	env := Envelope{
		Version:   EnvelopeVersion,
		UpdatedAt: time.Now().Unix(),
		Data:      e.Serialize(),
		Meta:      meta,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("persistence: encode envelope for %q: %w", key, err)
	}
	if err := c.store.Set(ctx, c.storeKey(key), string(payload)); err != nil {
		c.logger.Error("persistence: save %q failed: %v", key, err)
		return false, err
	}
	return true, nil
}

// Load reads key, decodes its Envelope, and merges Data into e via
// Deserialize. A missing key returns (true, nil, nil) per the
// documented "absent is not an error" contract. Decode failures get
// one jsonrepair attempt (logged as a warning on success) before
// surfacing as an error.
func (c *Controller) Load(ctx context.Context, e *entity.Entity, key string) (bool, *Envelope, error) {
	storeKey := c.storeKey(key)

	v, err, _ := c.loadSF.Do(storeKey, func() (any, error) {
		raw, found, err := c.store.Get(ctx, storeKey)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		env, decodeErr := decodeEnvelope(raw)
		if decodeErr != nil {
			repaired, repairErr := jsonrepair.JSONRepair(raw)
			if repairErr != nil {
				return nil, fmt.Errorf("persistence: decode %q failed and could not be repaired: %w", key, decodeErr)
			}
			env, decodeErr = decodeEnvelope(repaired)
			if decodeErr != nil {
				return nil, fmt.Errorf("persistence: decode %q failed after repair: %w", key, decodeErr)
			}
			c.logger.Warn("persistence: repaired malformed payload for %q", key)
		}
		return env, nil
	})
	if err != nil {
		c.logger.Error("persistence: load %q failed: %v", key, err)
		return false, nil, err
	}
	if v == nil {
		return true, nil, nil
	}

	env := v.(*Envelope)
	if e != nil {
		e.Deserialize(env.Data)
	}
	return true, env, nil
}

func decodeEnvelope(raw string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Mutator transforms a decoded Envelope in place for Update.
type Mutator func(env *Envelope) error

// Update performs an atomic read-mutate-write transform on the
// payload stored under key. If key is absent, mutator receives a
// fresh, empty Envelope.
func (c *Controller) Update(ctx context.Context, key string, mutator Mutator) error {
	storeKey := c.storeKey(key)
	raw, found, err := c.store.Get(ctx, storeKey)
	if err != nil {
		return err
	}

	env := &Envelope{Version: EnvelopeVersion, Data: make(map[string]any)}
	if found {
		decoded, err := decodeEnvelope(raw)
		if err != nil {
			repaired, repairErr := jsonrepair.JSONRepair(raw)
			if repairErr != nil {
				return fmt.Errorf("persistence: update %q: undecodable and unrepairable: %w", key, err)
			}
			decoded, err = decodeEnvelope(repaired)
			if err != nil {
				return fmt.Errorf("persistence: update %q: undecodable after repair: %w", key, err)
			}
		}
		env = decoded
	}

	if err := mutator(env); err != nil {
		return err
	}
	env.UpdatedAt = time.Now().Unix()

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("persistence: encode envelope for %q: %w", key, err)
	}
	return c.store.Set(ctx, storeKey, string(payload))
}

// Delete removes key from the store.
func (c *Controller) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.storeKey(key))
}
