package annotation

// All matches any body type or any value.
const All = "ALL"

// Filter selects annotations by body type and, within that type, by a value
// held in the body.
type Filter struct {
	BodyType string
	Value    string
}

func (f Filter) Complies(a *Annotation) bool {
	if f.BodyType == All {
		return true
	}
	if a.BodyType() != f.BodyType {
		return false
	}
	if f.Value == All {
		return true
	}
	return a.HasValue(f.Value)
}
