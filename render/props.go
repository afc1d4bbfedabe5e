package render

import "strconv"

// props wraps a node's free-form property map. Values arrive from CBOR, so
// integers may be uint64 or int64 and lists are []any.
type props map[string]any

func (p props) str(key string) string {
	v, _ := p[key].(string)
	return v
}

// optStr distinguishes an absent key from an empty string.
func (p props) optStr(key string) *string {
	v, ok := p[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func (p props) boolean(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func (p props) integer(key string) int {
	switch v := p[key].(type) {
	case uint64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (p props) strings(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// icon accepts either a plain source string or a {source: ...} map.
func (p props) icon(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case map[string]any:
		return props(v).str("source")
	}
	return ""
}

// accessories flattens accessory descriptors to their display text.
func (p props) accessories(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		switch a := v.(type) {
		case string:
			out = append(out, a)
		case map[string]any:
			ap := props(a)
			for _, k := range []string{"text", "tag", "date"} {
				if s := ap.str(k); s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

func (p props) shortcut(key string) *Shortcut {
	raw, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	sp := props(raw)
	return &Shortcut{Modifiers: sp.strings("modifiers"), Key: sp.str("key")}
}
