package relay

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agsys/relay-controller/internal/fault"
)

// IndicatorTag names the on-board indicator LED
const IndicatorTag = "LED"

type idKind uint8

const (
	kindInvalid idKind = iota
	kindNamed
	kindPin
)

// ID identifies a relay: either a named output (the on-board indicator) or
// a numeric GPIO pin. IDs are comparable and usable as map keys.
type ID struct {
	kind idKind
	name string
	pin  int
}

// NamedID returns the identifier for a named output
func NamedID(name string) ID {
	return ID{kind: kindNamed, name: name}
}

// PinID returns the identifier for a numeric GPIO pin
func PinID(pin int) ID {
	return ID{kind: kindPin, pin: pin}
}

// IsZero reports whether id was never assigned
func (id ID) IsZero() bool { return id.kind == kindInvalid }

// IsNamed reports whether id is a named output
func (id ID) IsNamed() bool { return id.kind == kindNamed }

// Pin returns the GPIO number for a numeric id
func (id ID) Pin() (int, bool) {
	return id.pin, id.kind == kindPin
}

// String returns the canonical key: the name, or the decimal pin number
func (id ID) String() string {
	switch id.kind {
	case kindNamed:
		return id.name
	case kindPin:
		return strconv.Itoa(id.pin)
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,31}$`)

// ParseID normalizes a relay identifier taken from a URL, a config file or a
// schedule document key.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, fault.Invalid("id", "relay id is empty")
	}

	if s[0] == '-' || s[0] == '+' || (s[0] >= '0' && s[0] <= '9') {
		n, err := strconv.Atoi(s)
		if err != nil {
			return ID{}, fault.Invalid("id", "%q is not a valid pin number", s)
		}
		if n < 0 {
			return ID{}, fault.Invalid("id", "pin number %d is negative", n)
		}
		return PinID(n), nil
	}

	if !namePattern.MatchString(s) {
		return ID{}, fault.Invalid("id", "%q is not a valid relay name", s)
	}
	return NamedID(s), nil
}
