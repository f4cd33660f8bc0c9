// Package info provides typed, string-identified information keys and the
// heterogeneous property bags they address.
//
// Every pipeline port carries Information objects describing what it can
// produce or what is being requested of it. Keys carry their value type, so
// well-known properties are read without runtime casts:
//
//	var WholeExtent = info.NewKey[[]int]("WHOLE_EXTENT")
//
//	in := info.New()
//	WholeExtent.Set(in, []int{0, 9, 0, 9, 0, 0})
//	ext, ok := WholeExtent.Get(in)
package info

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Value constrains the types an information key may carry.
type Value interface {
	int | []int | float64 | []float64 | string | *Information | []*Information
}

// TypeMismatchError reports a read of a key whose stored value has another
// type. It is raised as a panic: reading with the wrong type is a
// programming error, never a recoverable condition.
type TypeMismatchError struct {
	Key    string
	Stored string
	Wanted string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("information key %q holds %s, read as %s", e.Key, e.Stored, e.Wanted)
}

var registry = struct {
	sync.Mutex
	types map[string]reflect.Type
}{types: make(map[string]reflect.Type)}

// Key is a typed, globally unique information key.
type Key[T Value] struct {
	name string
}

// NewKey registers and returns the key called name. Registering the same name
// again with the same type returns an equivalent key; registering it with a
// different type panics.
func NewKey[T Value](name string) Key[T] {
	if name == "" {
		panic("info: empty key name")
	}
	typ := reflect.TypeFor[T]()

	registry.Lock()
	defer registry.Unlock()
	if prev, ok := registry.types[name]; ok && prev != typ {
		panic(fmt.Sprintf("info: key %q already registered as %s, not %s", name, prev, typ))
	}
	registry.types[name] = typ
	return Key[T]{name: name}
}

// LookupType returns the registered value type of a key name.
func LookupType(name string) (reflect.Type, bool) {
	registry.Lock()
	defer registry.Unlock()
	t, ok := registry.types[name]
	return t, ok
}

// Name returns the key's string identifier.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string { return k.name }

// Set stores v under k. Slices and nested objects are copied.
func (k Key[T]) Set(in *Information, v T) {
	in.entries[k.name] = copyValue(any(v))
}

// Get returns the value stored under k. It panics with a *TypeMismatchError if
// the stored value is not a T.
func (k Key[T]) Get(in *Information) (T, bool) {
	var zero T
	if in == nil {
		return zero, false
	}
	raw, ok := in.entries[k.name]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		panic(&TypeMismatchError{
			Key:    k.name,
			Stored: reflect.TypeOf(raw).String(),
			Wanted: reflect.TypeFor[T]().String(),
		})
	}
	return v, true
}

// MustGet is Get for keys the caller has already checked with Has.
func (k Key[T]) MustGet(in *Information) T {
	v, ok := k.Get(in)
	if !ok {
		panic(fmt.Sprintf("info: key %q not set", k.name))
	}
	return v
}

// GetOr returns the stored value or def when k is absent.
func (k Key[T]) GetOr(in *Information, def T) T {
	if v, ok := k.Get(in); ok {
		return v
	}
	return def
}

// Has reports whether k is set.
func (k Key[T]) Has(in *Information) bool {
	if in == nil {
		return false
	}
	_, ok := in.entries[k.name]
	return ok
}

// Remove deletes k.
func (k Key[T]) Remove(in *Information) {
	delete(in.entries, k.name)
}

// Copy copies k from src into dst, removing it from dst when src lacks it.
func (k Key[T]) Copy(dst, src *Information) {
	if v, ok := k.Get(src); ok {
		k.Set(dst, v)
		return
	}
	k.Remove(dst)
}

// Information is a mapping from key names to values of the key's type.
type Information struct {
	entries map[string]any
}

// New returns an empty Information.
func New() *Information {
	return &Information{entries: make(map[string]any)}
}

// SetValue stores an untyped value under name. It is meant for generic
// plumbing such as configuration; the value must be one of the supported
// types and must agree with the registered type of name, if any.
func (in *Information) SetValue(name string, v any) error {
	switch v.(type) {
	case int, []int, float64, []float64, string, *Information, []*Information:
	default:
		return fmt.Errorf("unsupported information value %T for key %q", v, name)
	}
	if t, ok := LookupType(name); ok && t != reflect.TypeOf(v) {
		return &TypeMismatchError{Key: name, Stored: t.String(), Wanted: reflect.TypeOf(v).String()}
	}
	in.entries[name] = copyValue(v)
	return nil
}

// Value returns the untyped value stored under name.
func (in *Information) Value(name string) (any, bool) {
	v, ok := in.entries[name]
	return v, ok
}

// Len returns the number of entries.
func (in *Information) Len() int { return len(in.entries) }

// Keys returns the entry names in sorted order.
func (in *Information) Keys() []string {
	keys := make([]string, 0, len(in.entries))
	for k := range in.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every entry.
func (in *Information) Clear() {
	clear(in.entries)
}

// Copy returns a deep copy.
func (in *Information) Copy() *Information {
	if in == nil {
		return nil
	}
	out := New()
	for k, v := range in.entries {
		out.entries[k] = copyValue(v)
	}
	return out
}

// Merge copies every entry of src into in, overwriting existing entries.
func (in *Information) Merge(src *Information) {
	if src == nil {
		return
	}
	for k, v := range src.entries {
		in.entries[k] = copyValue(v)
	}
}

// Equal reports whether both objects hold the same entries.
func (in *Information) Equal(o *Information) bool {
	if in == nil || o == nil {
		return in == o
	}
	if len(in.entries) != len(o.entries) {
		return false
	}
	for k, v := range in.entries {
		w, ok := o.entries[k]
		if !ok || !equalValue(v, w) {
			return false
		}
	}
	return true
}

func (in *Information) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range in.Keys() {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, in.entries[k])
	}
	sb.WriteString("}")
	return sb.String()
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []int:
		return slices.Clone(t)
	case []float64:
		return slices.Clone(t)
	case *Information:
		return t.Copy()
	case []*Information:
		out := make([]*Information, len(t))
		for i, n := range t {
			out[i] = n.Copy()
		}
		return out
	default:
		return v
	}
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case []int:
		y, ok := b.([]int)
		return ok && slices.Equal(x, y)
	case []float64:
		y, ok := b.([]float64)
		return ok && slices.Equal(x, y)
	case *Information:
		y, ok := b.(*Information)
		return ok && x.Equal(y)
	case []*Information:
		y, ok := b.([]*Information)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
