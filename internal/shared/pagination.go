package shared

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

// NewPage clamps caller supplied limit/offset. Non-positive limits fall back
// to def and anything above max is capped.
func NewPage(limit, offset, def, max int) Page {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
