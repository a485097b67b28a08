package snowflake

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the snowflake node with the given node ID.
// Node ID should be unique across all instances (0-1023).
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	node = n
	return nil
}

// NextID generates a new unique snowflake ID. When Init was never called,
// node 0 is used so embedded library use still gets valid ids.
func NextID() int64 {
	if node == nil {
		once.Do(func() {
			if node == nil {
				n, err := snowflake.NewNode(0)
				if err != nil {
					panic(err)
				}
				node = n
			}
		})
	}
	return node.Generate().Int64()
}
