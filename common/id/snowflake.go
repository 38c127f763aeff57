// Package id generates the identifiers used across the orchestrator:
// time-ordered snowflake IDs for domain records (plans, workflows,
// checkpoints, memory records) and random UUIDs for ephemeral event
// correlation IDs.
package id

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered and unique across distributed instances. If Init has
// not been called, the first call initializes the node with node ID 1.
func New() int64 {
	_ = Init(1)
	return node.Generate().Int64()
}

// NewString returns New as a base-10 string, optionally prefixed (e.g.
// "plan_123456"). Used for every domain identifier that is serialized to
// JSON or persisted to the memory store.
func NewString(prefix string) string {
	n := strconv.FormatInt(New(), 10)
	if prefix == "" {
		return n
	}
	return fmt.Sprintf("%s_%s", prefix, n)
}

// NewEventID returns a random correlation ID for one Event Bus publication.
// Unlike domain IDs, event correlation IDs carry no ordering requirement and
// are never persisted beyond the event's own lifetime, so a plain random
// UUID is used instead of a snowflake ID.
func NewEventID() string {
	return uuid.NewString()
}
