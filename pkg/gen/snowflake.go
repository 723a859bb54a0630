package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen",
	fx.Provide(func() (*snowflake.Node, error) { return NewSnowflakeNode(1) }),
)

// NewSnowflakeNode returns the ID generator for one process. nodeID must be
// unique among processes writing to the same database.
func NewSnowflakeNode(nodeID int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
