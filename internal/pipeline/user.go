package pipeline

// Organization identifies the tenant a user belongs to.
type Organization struct {
	ID int `json:"id"`
}

// Plan is a subscription the user holds.
type Plan struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Expired bool   `json:"expired"`
}

// User is the caller of a pipeline operation. Organization is nil for
// unseated users.
type User struct {
	Username     string        `json:"username"`
	Organization *Organization `json:"organization,omitempty"`
	Plans        []Plan        `json:"plans,omitempty"`
}

// OrgID returns the user's organization id, or false when the user has none.
func (u *User) OrgID() (int, bool) {
	if u == nil || u.Organization == nil {
		return 0, false
	}
	return u.Organization.ID, true
}

// HasActiveTrial reports whether the user holds an unexpired trial plan.
func (u *User) HasActiveTrial() bool {
	if u == nil {
		return false
	}
	for _, plan := range u.Plans {
		if plan.Active && !plan.Expired {
			return true
		}
	}
	return false
}
