// Package id issues the row ids of landed trips.
package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node    *snowflake.Node
	initErr error
	once    sync.Once
)

// Init configures the generator for this writer instance. Only the first call
// has an effect; every writer process needs its own node id.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
		if initErr != nil {
			initErr = fmt.Errorf("snowflake node %d: %w", nodeID, initErr)
		}
	})
	return initErr
}

// New returns a time-ordered id. Init must have succeeded first.
func New() int64 {
	return node.Generate().Int64()
}
