package stage

import (
	"time"

	"cogentcore.org/core/math32"
	"github.com/lucasb-eyer/go-colorful"
)

// Layout holds the chain geometry in scene units.
type Layout struct {
	Offset     float32
	NodeWidth  float32
	NodeHeight float32
	ArrowWidth float32
	LineWidth  float32
}

// DefaultLayout returns the stock chain geometry.
func DefaultLayout() Layout {
	return Layout{
		Offset:     14,
		NodeWidth:  8,
		NodeHeight: 5,
		ArrowWidth: 1,
		LineWidth:  0.2,
	}
}

// NodePosition is where the node at index i sits: i * Offset along x.
func (l Layout) NodePosition(i int) math32.Vector3 {
	return math32.Vec3(float32(i)*l.Offset, 0, 0)
}

// ConnectorPosition places the connector leaving node i just in front of it.
func (l Layout) ConnectorPosition(i int) math32.Vector3 {
	p := l.NodePosition(i)
	return math32.Vec3(p.X+l.NodeWidth/4, 0, 0.1)
}

// ConnectorLength spans the gap to the next node.
func (l Layout) ConnectorLength() float32 {
	return l.Offset - l.NodeWidth/2
}

// IndicatorPosition hovers above node slot i.
func (l Layout) IndicatorPosition(i int) math32.Vector3 {
	p := l.NodePosition(i)
	return math32.Vec3(p.X, l.NodeHeight, 0.1)
}

// Timing holds clip durations.
type Timing struct {
	FadeIn  time.Duration
	FadeOut time.Duration
	Move    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		FadeIn:  time.Second,
		FadeOut: time.Second,
		Move:    500 * time.Millisecond,
	}
}

// Palette holds actor colours.
type Palette struct {
	Background colorful.Color
	Node       colorful.Color
	Connector  colorful.Color
	Indicator  colorful.Color
}

func DefaultPalette() Palette {
	return Palette{
		Background: colorful.Color{R: 0, G: 0, B: 0},
		Node:       colorful.Color{R: 1, G: 1, B: 1},
		Connector:  colorful.Color{R: 1, G: 1, B: 1},
		Indicator:  colorful.Color{R: 1, G: 0.8, B: 0},
	}
}
