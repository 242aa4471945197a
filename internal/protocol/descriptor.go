package protocol

import (
	"fmt"
	"strings"
)

// Descriptor addresses the items or fields of a subscription, either by
// an explicit name list (position <-> name lookups both work) or by an
// opaque server-side group/schema name (position-only lookups; §4.2).
type Descriptor interface {
	// WireValue is what goes on the wire for LS_group/LS_schema: the
	// space-joined name list, or the bare group/schema name.
	WireValue() string
	// Size is the number of items/fields, or -1 if unknown (name
	// descriptors have no known size until the server confirms one via
	// SUBOK/SUBCMD).
	Size() int
	// NameOf returns the name at 1-based position pos, or ("", false) if
	// this descriptor cannot resolve names (a bare name descriptor).
	NameOf(pos int) (string, bool)
	// PosOf returns the 1-based position of name, or (0, false) if not
	// found or this descriptor cannot resolve names.
	PosOf(name string) (int, bool)
	// IsList reports whether this is a list descriptor (supports
	// name<->position lookups) as opposed to an opaque name descriptor.
	IsList() bool
}

// ListDescriptor is an explicit, ordered list of item or field names.
type ListDescriptor struct {
	names   []string
	byName  map[string]int
}

// NewListDescriptor validates and builds a list descriptor. validate is
// called once per name (ValidateItemName or ValidateFieldName).
func NewListDescriptor(names []string, validate func(string) error) (*ListDescriptor, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("protocol: descriptor list must not be empty")
	}
	byName := make(map[string]int, len(names))
	for i, n := range names {
		if validate != nil {
			if err := validate(n); err != nil {
				return nil, err
			}
		}
		byName[n] = i + 1
	}
	cp := make([]string, len(names))
	copy(cp, names)
	return &ListDescriptor{names: cp, byName: byName}, nil
}

func (d *ListDescriptor) WireValue() string { return strings.Join(d.names, " ") }
func (d *ListDescriptor) Size() int         { return len(d.names) }
func (d *ListDescriptor) IsList() bool      { return true }

func (d *ListDescriptor) NameOf(pos int) (string, bool) {
	if pos < 1 || pos > len(d.names) {
		return "", false
	}
	return d.names[pos-1], true
}

func (d *ListDescriptor) PosOf(name string) (int, bool) {
	pos, ok := d.byName[name]
	return pos, ok
}

// NameDescriptor is an opaque server-side group or schema name; only
// position-based lookups are meaningful (§4.2).
type NameDescriptor struct {
	name string
	size int // -1 until known
}

// NewNameDescriptor builds a descriptor that refers to a server-side
// item-group or field-schema by name.
func NewNameDescriptor(name string) (*NameDescriptor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("protocol: descriptor name must not be empty")
	}
	return &NameDescriptor{name: name, size: -1}, nil
}

func (d *NameDescriptor) WireValue() string { return d.name }
func (d *NameDescriptor) Size() int         { return d.size }
func (d *NameDescriptor) IsList() bool      { return false }

func (d *NameDescriptor) NameOf(int) (string, bool)    { return "", false }
func (d *NameDescriptor) PosOf(string) (int, bool)     { return 0, false }

// SetSize records the size reported by the server (SUBOK/SUBCMD item or
// field count) for a name descriptor, enabling position-range validation.
func (d *NameDescriptor) SetSize(n int) { d.size = n }

// ValidateItemName enforces §4.2: nonempty, no spaces, not purely numeric.
func ValidateItemName(name string) error {
	if name == "" {
		return fmt.Errorf("protocol: item name must not be empty")
	}
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("protocol: item name %q must not contain spaces", name)
	}
	if isAllDigits(name) {
		return fmt.Errorf("protocol: item name %q must not be purely numeric", name)
	}
	return nil
}

// ValidateFieldName enforces §4.2: nonempty, no spaces.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("protocol: field name must not be empty")
	}
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("protocol: field name %q must not contain spaces", name)
	}
	return nil
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
