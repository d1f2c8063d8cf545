package domain

import "encoding/json"

// The dependencies blob maps repo names to either an object carrying the
// pinned sha or a bare string comment. Both shapes round-trip through the
// queue document unchanged.

// UnmarshalJSON accepts {"sha": "..."} objects and bare comment strings.
func (r *RepoRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RepoRef{Comment: s}
		return nil
	}

	type plain RepoRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RepoRef(p)
	return nil
}

// MarshalJSON writes comment-only entries back as bare strings.
func (r RepoRef) MarshalJSON() ([]byte, error) {
	if r.SHA == "" && r.Comment != "" {
		return json.Marshal(r.Comment)
	}
	type plain RepoRef
	return json.Marshal(plain(r))
}
