package device

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

var (
	// ErrUnknownAttribute indicates an attribute name missing from the table.
	ErrUnknownAttribute = errors.New("device: unknown attribute")
	// ErrReadOnlyAttribute indicates a Set on an attribute without setter.
	ErrReadOnlyAttribute = errors.New("device: attribute is read-only")
	// ErrInvalidValue indicates a value that cannot be parsed for an attribute.
	ErrInvalidValue = errors.New("device: invalid attribute value")
)

// Attribute exposes one device field as text.
type Attribute struct {
	Get func() string
	Set func(value string) error // nil for read-only attributes
}

// Attributes maps attribute names to typed accessors. It is built once when
// the device is constructed; accessors run with the device lock held.
type Attributes struct {
	mu    sync.RWMutex
	names []string
	attrs map[string]Attribute
}

// NewAttributes creates an empty attribute table.
func NewAttributes() *Attributes {
	return &Attributes{attrs: make(map[string]Attribute)}
}

// Register adds an attribute. It panics on an empty name, a nil getter or a
// duplicate name, which are programming errors of the device constructor.
func (a *Attributes) Register(name string, attr Attribute) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name == "" || attr.Get == nil {
		panic(fmt.Sprintf("device: invalid attribute %q", name))
	}
	if _, ok := a.attrs[name]; ok {
		panic(fmt.Sprintf("device: duplicate attribute %q", name))
	}
	a.names = append(a.names, name)
	a.attrs[name] = attr
}

// Names returns the attribute names, sorted.
func (a *Attributes) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := slices.Clone(a.names)
	slices.Sort(names)

	return names
}

// Get returns the text value of the named attribute.
func (a *Attributes) Get(name string) (string, error) {
	attr, err := a.lookup(name)
	if err != nil {
		return "", err
	}

	return attr.Get(), nil
}

// Set parses value into the named attribute.
func (a *Attributes) Set(name string, value string) error {
	attr, err := a.lookup(name)
	if err != nil {
		return err
	}
	if attr.Set == nil {
		return fmt.Errorf("%w: %s", ErrReadOnlyAttribute, name)
	}

	return attr.Set(value)
}

func (a *Attributes) lookup(name string) (Attribute, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	attr, ok := a.attrs[name]
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}

	return attr, nil
}

// Float exposes a float64 field.
func Float(p *float64) Attribute {
	return Attribute{
		Get: func() string { return strconv.FormatFloat(*p, 'g', -1, 64) },
		Set: func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %q: %w", ErrInvalidValue, v, err)
			}
			*p = f

			return nil
		},
	}
}

// Int exposes an int field.
func Int(p *int) Attribute {
	return Attribute{
		Get: func() string { return strconv.Itoa(*p) },
		Set: func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %q: %w", ErrInvalidValue, v, err)
			}
			*p = n

			return nil
		},
	}
}

// Bool exposes a bool field. Set accepts the forms of strconv.ParseBool.
func Bool(p *bool) Attribute {
	return Attribute{
		Get: func() string { return strconv.FormatBool(*p) },
		Set: func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %q: %w", ErrInvalidValue, v, err)
			}
			*p = b

			return nil
		},
	}
}

// String exposes a string field.
func String(p *string) Attribute {
	return Attribute{
		Get: func() string { return *p },
		Set: func(v string) error {
			*p = v
			return nil
		},
	}
}

// OneOf exposes a string field restricted to options.
func OneOf(p *string, options ...string) Attribute {
	return Attribute{
		Get: func() string { return *p },
		Set: func(v string) error {
			if !slices.Contains(options, v) {
				return fmt.Errorf("%w: %q is not one of %v", ErrInvalidValue, v, options)
			}
			*p = v

			return nil
		},
	}
}

// ReadOnly exposes a computed value.
func ReadOnly(get func() string) Attribute {
	return Attribute{Get: get}
}
