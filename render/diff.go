package render

import (
	"bytes"

	"github.com/machinefabric/extbridge-go/bifaci"
)

// markDirty sets next's Dirty and PropsDirty flags against the model last
// applied to the same view. Models are compared by their deterministic CBOR
// encoding; an encoding failure counts as a change.
func markDirty(next, prev Model) {
	c := next.Base()
	if prev == nil || prev.Kind() != next.Kind() {
		c.Dirty, c.PropsDirty = true, true
		return
	}
	c.Dirty = !sameEncoding(contentOf(next), contentOf(prev))
	c.PropsDirty = !sameEncoding(propsOf(next.Base()), propsOf(prev.Base()))
}

func sameEncoding(a, b any) bool {
	ea, err := bifaci.Marshal(a)
	if err != nil {
		return false
	}
	eb, err := bifaci.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func propsOf(c *Common) any {
	cp := *c
	cp.Dirty, cp.PropsDirty = false, false
	return &cp
}

// contentOf returns a copy of m without its Common fields.
func contentOf(m Model) any {
	switch v := m.(type) {
	case *ListModel:
		cp := *v
		cp.Common = Common{}
		return &cp
	case *GridModel:
		cp := *v
		cp.Common = Common{}
		return &cp
	case *FormModel:
		cp := *v
		cp.Common = Common{}
		return &cp
	case *DetailModel:
		cp := *v
		cp.Common = Common{}
		return &cp
	case *InvalidModel:
		cp := *v
		cp.Common = Common{}
		return &cp
	}
	return m
}
