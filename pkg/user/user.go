// Package user holds the application's projection of an identity
// provider account. A User is always derived from a session's identity
// claims and never constructed from client input.
package user

import (
	"strings"
	"time"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// ParseGender maps an arbitrary claim value to a known gender,
// defaulting to GenderOther.
func ParseGender(s string) Gender {
	switch Gender(strings.ToLower(s)) {
	case GenderMale:
		return GenderMale
	case GenderFemale:
		return GenderFemale
	default:
		return GenderOther
	}
}

type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Nickname  string     `json:"nickname,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Gender    Gender     `json:"gender"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// FromClaims projects provider identity claims to a User. Returns nil
// if the claims carry no subject, so a User cannot exist without a
// backing session. The nickname falls back to the local part of the
// email address.
func FromClaims(claims map[string]any) *User {
	if claims == nil {
		return nil
	}

	id := stringClaim(claims, "sub")
	if id == "" {
		id = stringClaim(claims, "id")
	}
	if id == "" {
		return nil
	}

	email := stringClaim(claims, "email")

	metadata, _ := claims["user_metadata"].(map[string]any)

	nickname := stringClaim(metadata, "nickname")
	if nickname == "" && email != "" {
		nickname = strings.SplitN(email, "@", 2)[0]
	}

	u := &User{
		ID:        id,
		Email:     email,
		Nickname:  nickname,
		AvatarURL: stringClaim(metadata, "avatar_url"),
		Gender:    ParseGender(stringClaim(metadata, "gender")),
		CreatedAt: timeClaim(claims, "created_at"),
		UpdatedAt: timeClaim(claims, "updated_at"),
	}

	if deleted := timeClaim(claims, "deleted_at"); !deleted.IsZero() {
		u.DeletedAt = &deleted
	}

	return u
}

func stringClaim(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	s, _ := claims[key].(string)
	return s
}

func timeClaim(claims map[string]any, key string) time.Time {
	s := stringClaim(claims, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
