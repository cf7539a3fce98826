package giveaway

// EntrantSet is an insertion-ordered set of user names bounded by a capacity.
// It is not safe for concurrent use; the Machine lock guards it.
type EntrantSet struct {
	max     int
	order   []string
	members map[string]struct{}
}

// NewEntrantSet creates an empty set admitting at most max users.
func NewEntrantSet(max int) *EntrantSet {
	if max < 0 {
		max = 0
	}
	return &EntrantSet{max: max, members: make(map[string]struct{})}
}

// Reset removes every entrant.
func (e *EntrantSet) Reset() {
	e.order = nil
	e.members = make(map[string]struct{})
}

// Offer adds user unless the set is full and reports whether user is a member
// afterwards. Membership is checked first so a present user is never rejected
// at capacity.
func (e *EntrantSet) Offer(user string) bool {
	if _, ok := e.members[user]; ok {
		return true
	}
	if len(e.order) >= e.max {
		return false
	}
	e.members[user] = struct{}{}
	e.order = append(e.order, user)
	return true
}

// Contains reports whether user has entered.
func (e *EntrantSet) Contains(user string) bool {
	_, ok := e.members[user]
	return ok
}

// Members returns a copy of the entrants in the order they joined.
func (e *EntrantSet) Members() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Len returns the number of entrants.
func (e *EntrantSet) Len() int { return len(e.order) }

// Cap returns the configured capacity.
func (e *EntrantSet) Cap() int { return e.max }

// Full reports whether new users would be rejected.
func (e *EntrantSet) Full() bool { return len(e.order) >= e.max }
