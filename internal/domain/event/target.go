package event

import "slices"

// Target selects the connections an event is delivered to.
// Clauses are OR-ed; the zero Target addresses every connection.
type Target struct {
	SessionIDs  []string `json:"session_ids,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	FacultyID   string   `json:"faculty_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Recipient is the read-only view of a connection the predicate needs.
type Recipient interface {
	GetSessionID() string
	GetUserID() string
	GetFacultyID() string
	HasPermission(p string) bool
}

// IsBroadcast reports whether no clause is set.
func (t Target) IsBroadcast() bool {
	return len(t.SessionIDs) == 0 && t.UserID == "" && t.FacultyID == "" && len(t.Permissions) == 0
}

// Matches evaluates the clauses in precedence order: session list, user, faculty,
// permission intersection, unconditional broadcast. The first hit wins, so a
// recipient matching several clauses is still selected once.
func (t Target) Matches(r Recipient) bool {
	if t.IsBroadcast() {
		return true
	}
	if len(t.SessionIDs) > 0 && slices.Contains(t.SessionIDs, r.GetSessionID()) {
		return true
	}
	if t.UserID != "" && t.UserID == r.GetUserID() {
		return true
	}
	if t.FacultyID != "" && t.FacultyID == r.GetFacultyID() {
		return true
	}
	for _, p := range t.Permissions {
		if r.HasPermission(p) {
			return true
		}
	}
	return false
}

func (t Target) normalize() Target {
	out := Target{UserID: t.UserID, FacultyID: t.FacultyID}
	out.SessionIDs = compact(t.SessionIDs)
	out.Permissions = compact(t.Permissions)
	return out
}

func compact(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
