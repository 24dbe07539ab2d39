package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

func snowflakeNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v := os.Getenv("SNOWFLAKE_NODE"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				nodeID = parsed
			}
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// out-of-range node id from env; node 1 always works
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node
}

// NewID generates a time-ordered unique int64 suitable for primary keys.
func NewID() int64 {
	return snowflakeNode().Generate().Int64()
}

// NewRequestID generates a KSUID string used to correlate request logs.
func NewRequestID() string {
	return ksuid.New().String()
}
