package models

import dErrors "evalledger/pkg/domain-errors"

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 100
)

// Page is an offset window over a list ordered by creation time.
type Page struct {
	Skip  int
	Limit int
}

func DefaultPage() Page {
	return Page{Skip: 0, Limit: DefaultPageLimit}
}

func (p Page) Validate() error {
	if p.Skip < 0 {
		return dErrors.Field("skip", "must be >= 0")
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return dErrors.Field("limit", "must be between 1 and 100")
	}
	return nil
}

// Window returns the [lo, hi) bounds of the page within n items.
func (p Page) Window(n int) (int, int) {
	lo := min(p.Skip, n)
	hi := min(lo+p.Limit, n)
	return lo, hi
}
