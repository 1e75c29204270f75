package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

type AnnotationKind string

const (
	AnnotationDraw    AnnotationKind = "draw"
	AnnotationPointer AnnotationKind = "pointer"
)

const (
	DefaultStrokeColor  = "#2563eb"
	DefaultPointerColor = "#ef4444"
	DefaultStrokeWidth  = 2.0
	PointerRadius       = 8.0
)

var ErrEmptyStroke = errors.New("draw annotation without points")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is one whiteboard instruction. Draw uses Points, pointer uses At.
type Annotation struct {
	Kind   AnnotationKind `json:"type"`
	Points []Point        `json:"points,omitempty"`
	At     Point          `json:"-"`
	Color  string         `json:"color,omitempty"`
	Width  float64        `json:"width,omitempty"`
	Label  string         `json:"message,omitempty"`
}

// wire form keeps pointer coordinates flat: {"type":"pointer","x":..,"y":..}
type annotationWire struct {
	Kind   AnnotationKind `json:"type"`
	Points []Point        `json:"points,omitempty"`
	X      *float64       `json:"x,omitempty"`
	Y      *float64       `json:"y,omitempty"`
	Color  string         `json:"color,omitempty"`
	Width  float64        `json:"width,omitempty"`
	Label  string         `json:"message,omitempty"`
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	w := annotationWire{Kind: a.Kind, Points: a.Points, Color: a.Color, Width: a.Width, Label: a.Label}
	if a.Kind == AnnotationPointer {
		x, y := a.At.X, a.At.Y
		w.X, w.Y = &x, &y
	}
	return json.Marshal(w)
}

func (a *Annotation) UnmarshalJSON(data []byte) error {
	var w annotationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Annotation{Kind: w.Kind, Points: w.Points, Color: w.Color, Width: w.Width, Label: w.Label}
	if w.X != nil {
		a.At.X = *w.X
	}
	if w.Y != nil {
		a.At.Y = *w.Y
	}
	return nil
}

func (a Annotation) Validate() error {
	switch a.Kind {
	case AnnotationDraw:
		if len(a.Points) == 0 {
			return ErrEmptyStroke
		}
	case AnnotationPointer:
	default:
		return fmt.Errorf("unknown annotation kind %q", a.Kind)
	}
	return nil
}

// StrokeColor falls back to the kind's default colour.
func (a Annotation) StrokeColor() string {
	if a.Color != "" {
		return a.Color
	}
	if a.Kind == AnnotationPointer {
		return DefaultPointerColor
	}
	return DefaultStrokeColor
}

func (a Annotation) StrokeWidth() float64 {
	if a.Width > 0 {
		return a.Width
	}
	return DefaultStrokeWidth
}

// AvatarState tracks the mentor avatar as announced by the service.
type AvatarState struct {
	Ready      bool   `json:"ready"`
	AvatarID   string `json:"avatarId,omitempty"`
	Expression string `json:"expression,omitempty"`
	Gesture    string `json:"gesture,omitempty"`
}
