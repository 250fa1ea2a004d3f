package dissect

import (
	"github.com/mdzio/go-rbus/msgpack"
)

// dissectGeneric shows the values as a flat sequence, labeled by a
// ParseContext where the position is recognizable.
func dissectGeneric(n Node, vals []*msgpack.Value) {
	ctx := newParseContext(vals)
	for _, v := range vals {
		display(n, ctx.Label(v), v)
	}
}
