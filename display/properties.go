package display

import "github.com/gogpu/wrender/geom"

// DynamicProperties carries new values for bound properties. Values not
// mentioned keep their previous value.
type DynamicProperties struct {
	Transforms []TransformValue
	Floats     []FloatValue
	Colors     []ColorValue
}

// TransformValue is the value of a bound reference frame transform.
type TransformValue struct {
	Key   PropertyKey
	Value geom.Transform
}

// FloatValue is the value of a bound opacity.
type FloatValue struct {
	Key   PropertyKey
	Value float32
}

// ColorValue is the value of a bound rectangle color.
type ColorValue struct {
	Key   PropertyKey
	Value ColorU
}

// PropertyStore holds the current value of every bound property.
type PropertyStore struct {
	transforms map[PropertyKey]geom.Transform
	floats     map[PropertyKey]float32
	colors     map[PropertyKey]ColorU
}

// NewPropertyStore creates an empty store.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{
		transforms: make(map[PropertyKey]geom.Transform),
		floats:     make(map[PropertyKey]float32),
		colors:     make(map[PropertyKey]ColorU),
	}
}

// Apply merges p into the store.
func (s *PropertyStore) Apply(p DynamicProperties) {
	for _, v := range p.Transforms {
		s.transforms[v.Key] = v.Value
	}
	for _, v := range p.Floats {
		s.floats[v.Key] = v.Value
	}
	for _, v := range p.Colors {
		s.colors[v.Key] = v.Value
	}
}

// Transform returns the value of key, or def when the key has no value.
func (s *PropertyStore) Transform(key PropertyKey, def geom.Transform) geom.Transform {
	if v, ok := s.transforms[key]; ok && key.IsBound() {
		return v
	}
	return def
}

// Float returns the value of key, or def when the key has no value.
func (s *PropertyStore) Float(key PropertyKey, def float32) float32 {
	if v, ok := s.floats[key]; ok && key.IsBound() {
		return v
	}
	return def
}

// Color returns the value of key, or def when the key has no value.
func (s *PropertyStore) Color(key PropertyKey, def ColorU) ColorU {
	if v, ok := s.colors[key]; ok && key.IsBound() {
		return v
	}
	return def
}
