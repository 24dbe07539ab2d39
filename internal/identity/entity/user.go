package entity

import (
	"time"
)

// User is the locally-owned identity record. The IdP is authoritative for
// the profile fields; they are refreshed on login. A user may exist without
// a mapping (legacy/local-only) until the first IdP-backed login.
type User struct {
	ID            int64      `db:"id"`
	Name          string     `db:"name"`
	Phone         *string    `db:"phone"`
	Email         string     `db:"email"`
	Locale        *string    `db:"locale"`
	TermsAccept   *bool      `db:"terms_accept"`
	TermsAcceptAt *time.Time `db:"terms_accept_at"`
	Created       time.Time  `db:"created"`
	Updated       time.Time  `db:"updated"`
}

// Mapping links an IdP subject to a local user. Exactly one mapping per
// user; lookups are keyed by subject.
type Mapping struct {
	UserID  int64  `db:"user_id"`
	Subject string `db:"subject"`
}

// profileFields is the allow-list of profile keys tracked locally. Anything
// else in an IdP profile is ignored.
var profileFields = []string{
	"name",
	"email",
	"phone",
	"locale",
	"terms_accept",
	"terms_accept_at",
}

// RelevantProfileFields flattens an IdP profile (userinfo or id_token
// claims) into the allow-listed fields. Merge order is user_metadata, then
// app_metadata, then top-level fields, so explicit top-level values win.
func RelevantProfileFields(profile map[string]any) map[string]any {
	merged := map[string]any{}
	for _, src := range []map[string]any{
		asMap(profile["user_metadata"]),
		asMap(profile["app_metadata"]),
		profile,
	} {
		for k, v := range src {
			merged[k] = v
		}
	}
	out := map[string]any{}
	for _, k := range profileFields {
		if v, ok := merged[k]; ok {
			out[k] = v
		}
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// NewUserFromProfile constructs a user from allow-listed profile fields.
// The caller assigns the ID.
func NewUserFromProfile(fields map[string]any) *User {
	u := &User{}
	u.ApplyProfile(fields)
	return u
}

// ApplyProfile overwrites each tracked field with the incoming value, but
// only where it actually differs from the stored one. Returns the names of
// the fields that changed.
func (u *User) ApplyProfile(fields map[string]any) []string {
	var changed []string
	for _, k := range profileFields {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if u.applyField(k, v) {
			changed = append(changed, k)
		}
	}
	return changed
}

func (u *User) applyField(name string, value any) bool {
	switch name {
	case "name":
		if s, ok := toString(value); ok && u.Name != s {
			u.Name = s
			return true
		}
	case "email":
		if s, ok := toString(value); ok && u.Email != s {
			u.Email = s
			return true
		}
	case "phone":
		return applyStringPtr(&u.Phone, value)
	case "locale":
		return applyStringPtr(&u.Locale, value)
	case "terms_accept":
		if b, ok := toBool(value); ok && (u.TermsAccept == nil || *u.TermsAccept != b) {
			u.TermsAccept = &b
			return true
		}
	case "terms_accept_at":
		if t, ok := toTime(value); ok && (u.TermsAcceptAt == nil || !u.TermsAcceptAt.Equal(t)) {
			u.TermsAcceptAt = &t
			return true
		}
	}
	return false
}

func applyStringPtr(field **string, value any) bool {
	s, ok := toString(value)
	if !ok {
		return false
	}
	if *field != nil && **field == s {
		return false
	}
	*field = &s
	return true
}

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// toTime accepts RFC 3339 strings and unix-seconds numbers, the two shapes
// the IdP uses for timestamps.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	}
	return time.Time{}, false
}
