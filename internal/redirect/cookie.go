package redirect

import "fmt"

// Cookie is an opaque socket identity. Two cookies compare equal only
// when they name the same underlying socket; nothing else can be
// derived from one. The zero Cookie means "no identity assigned".
type Cookie struct {
	id uint64
}

// NewCookie wraps a kernel- or locally-assigned identity value.
func NewCookie(v uint64) Cookie { return Cookie{id: v} }

// IsZero reports whether the cookie is unset.
func (c Cookie) IsZero() bool { return c.id == 0 }

func (c Cookie) String() string {
	if c.id == 0 {
		return "cookie(none)"
	}
	return fmt.Sprintf("cookie(%#x)", c.id)
}
