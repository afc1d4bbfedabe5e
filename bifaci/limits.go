package bifaci

// Default maximum frame size (4 MB). Render trees of large lists are the
// biggest messages on the wire.
const DefaultMaxFrame int = 4_194_304

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

// Limits bounds what a FrameReader accepts and a FrameWriter emits.
type Limits struct {
	MaxFrame int `mapstructure:"max_frame"`
}

// DefaultLimits returns the default framing limits.
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// ClampLimits returns limits with MaxFrame forced into (0, MaxFrameHardLimit].
func ClampLimits(l Limits) Limits {
	if l.MaxFrame <= 0 {
		l.MaxFrame = DefaultMaxFrame
	}
	l.MaxFrame = min(l.MaxFrame, MaxFrameHardLimit)
	return l
}
