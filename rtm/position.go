package rtm

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelPosition locates a point in a channel's history. Generation counts
// log truncations/rotations; offset orders messages within one generation.
type ChannelPosition struct {
	Generation uint32
	Offset     uint64
}

// String renders the wire form "generation:offset".
func (position ChannelPosition) String() string {
	return fmt.Sprintf("%d:%d", position.Generation, position.Offset)
}

// IsZero reports whether the position is the zero sentinel.
func (position ChannelPosition) IsZero() bool {
	return position.Generation == 0 && position.Offset == 0
}

// Before orders positions by (generation, offset).
func (position ChannelPosition) Before(other ChannelPosition) bool {
	if position.Generation != other.Generation {
		return position.Generation < other.Generation
	}
	return position.Offset < other.Offset
}

// ParseChannelPosition parses the wire form "generation:offset". Malformed
// input (missing separator, trailing characters, out-of-range numbers) yields
// the zero sentinel; callers cannot distinguish it from a genuine zero
// position.
func ParseChannelPosition(text string) ChannelPosition {
	generationText, offsetText, found := strings.Cut(text, ":")
	if !found {
		return ChannelPosition{}
	}
	generation, err := strconv.ParseUint(generationText, 10, 32)
	if err != nil {
		return ChannelPosition{}
	}
	offset, err := strconv.ParseUint(offsetText, 10, 64)
	if err != nil {
		return ChannelPosition{}
	}
	return ChannelPosition{Generation: uint32(generation), Offset: offset}
}
