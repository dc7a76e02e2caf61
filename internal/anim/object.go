package anim

import (
	"cogentcore.org/core/math32"
	"github.com/lucasb-eyer/go-colorful"
)

// Object is the animatable state of one visual actor.
// Rendering reads it; tracks write Position and Opacity.
type Object struct {
	Name     string
	Label    string
	Position math32.Vector3
	Opacity  float32
	Color    colorful.Color
}

// NewObject creates a fully transparent object at pos.
func NewObject(name string, pos math32.Vector3, color colorful.Color) *Object {
	return &Object{
		Name:     name,
		Position: pos,
		Color:    color,
	}
}

// Tint blends the object colour over background by its opacity.
// Renderers without an alpha channel use this as the effective colour.
func (o *Object) Tint(background colorful.Color) colorful.Color {
	return background.BlendRgb(o.Color, float64(o.Opacity)).Clamped()
}
