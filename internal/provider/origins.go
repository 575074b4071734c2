package provider

import "slices"

// Origins is the allow-list for the HTTP-Referer attribution header.
//
// Callers can claim any origin they like, so the claimed value is only
// ever used as a lookup key. What goes on the wire is always one of the
// configured strings.
type Origins struct {
	allowed []string
	def     string
}

// NewOrigins builds an allow-list. def is substituted for any origin that
// isn't listed. It's added to the list if it isn't there already.
func NewOrigins(allowed []string, def string) Origins {
	list := slices.Clone(allowed)
	if !slices.Contains(list, def) {
		list = append(list, def)
	}
	return Origins{allowed: list, def: def}
}

// Resolve returns origin if it's allow-listed, the default otherwise.
func (o Origins) Resolve(origin string) string {
	for _, a := range o.allowed {
		if a == origin {
			return a
		}
	}
	return o.def
}

// Default returns the substitute origin.
func (o Origins) Default() string {
	return o.def
}
