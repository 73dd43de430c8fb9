package channel

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// Scheme selects the backend of a channel.
type Scheme string

const (
	// SchemeCA addresses an EPICS process variable through the gateway.
	SchemeCA Scheme = "ca"
	// SchemeLocal addresses an in-process variable.
	SchemeLocal Scheme = "loc"
)

// ErrBadAddress is returned for addresses that cannot be parsed.
var ErrBadAddress = errors.New("bad channel address")

// Address is a parsed channel address such as "ca://PV:NAME" or
// "loc://trans_set?type=float&init=1&precision=2".
type Address struct {
	Scheme    Scheme
	Name      string
	Type      string
	Init      string
	HasInit   bool
	Precision int
}

// ParseAddress parses a channel address. Addresses without a scheme are
// treated as Channel Access names.
func ParseAddress(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		scheme, rest = string(SchemeCA), raw
	}
	a := Address{Scheme: Scheme(scheme), Precision: -1}
	switch a.Scheme {
	case SchemeCA:
		a.Name = rest
	case SchemeLocal:
		name, query, _ := strings.Cut(rest, "?")
		a.Name = name
		values, err := url.ParseQuery(query)
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q: %v", ErrBadAddress, raw, err)
		}
		a.Type = values.Get("type")
		if values.Has("init") {
			a.Init = values.Get("init")
			a.HasInit = true
		}
		if p := values.Get("precision"); p != "" {
			prec, err := strconv.Atoi(p)
			if err != nil {
				return Address{}, fmt.Errorf("%w: %q: bad precision", ErrBadAddress, raw)
			}
			a.Precision = prec
		}
	default:
		return Address{}, fmt.Errorf("%w: %q: unknown scheme %q", ErrBadAddress, raw, scheme)
	}
	if a.Name == "" {
		return Address{}, fmt.Errorf("%w: %q: empty name", ErrBadAddress, raw)
	}
	return a, nil
}

// Key identifies the channel independent of local options.
func (a Address) Key() string {
	return string(a.Scheme) + "://" + a.Name
}

func (a Address) String() string {
	return a.Key()
}

// CA formats a Channel Access address.
func CA(name string) string {
	return string(SchemeCA) + "://" + name
}

// Expand substitutes ${NAME} macros the way display templates do.
func Expand(template string, macros map[string]string) string {
	for k, v := range macros {
		template = strings.ReplaceAll(template, "${"+k+"}", v)
	}
	return template
}

// Coerce converts v to the declared type of a local channel. An empty type
// keeps the value as given.
func Coerce(typ string, v any) (any, error) {
	switch typ {
	case "":
		return v, nil
	case "float":
		if f, ok := models.ToFloat64(v); ok {
			return f, nil
		}
	case "int":
		if i, ok := models.ToInt64(v); ok {
			return i, nil
		}
	case "bool":
		if b, ok := models.ToBool(v); ok {
			return b, nil
		}
	case "str", "string":
		return models.ToString(v), nil
	case "array":
		if arr, ok := models.ToFloat64s(v); ok {
			return arr, nil
		}
	default:
		return nil, fmt.Errorf("unknown local channel type %q", typ)
	}
	return nil, fmt.Errorf("cannot convert %v to %s", v, typ)
}
