// Package identity turns an authenticated session into a conversation
// participant. A participant is either the end user or the admin; every
// role-dependent decision switches on the concrete type.
package identity

import "strings"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Normalize maps stored role strings onto a known role. Unknown values are
// treated as regular users.
func Normalize(role string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// Identity is what the session provider reports for a request.
type Identity struct {
	ID          string
	DisplayName string
	Role        Role
}

// Participant is implemented by User and Admin only.
type Participant interface {
	ParticipantID() string
	participant()
}

type User struct {
	ID          string
	DisplayName string
}

func (u User) ParticipantID() string { return u.ID }
func (User) participant()            {}

type Admin struct {
	ID          string
	DisplayName string
}

func (a Admin) ParticipantID() string { return a.ID }
func (Admin) participant()            {}

// Resolve builds the participant for an identity. A nil result means the
// request is unauthenticated.
func Resolve(id *Identity) Participant {
	if id == nil || strings.TrimSpace(id.ID) == "" {
		return nil
	}
	switch id.Role {
	case RoleAdmin:
		return Admin{ID: id.ID, DisplayName: id.DisplayName}
	default:
		return User{ID: id.ID, DisplayName: id.DisplayName}
	}
}

// Pair is the (user, admin) pair a conversation belongs to.
type Pair struct {
	UserID  string
	AdminID string
}

// PartyTo reports whether p is one of the two parties of pair.
func PartyTo(p Participant, pair Pair) bool {
	if p == nil {
		return false
	}
	switch v := p.(type) {
	case User:
		return v.ID != "" && v.ID == pair.UserID
	case Admin:
		return v.ID != "" && v.ID == pair.AdminID
	default:
		return false
	}
}

// RoleOf returns the role a participant acts under.
func RoleOf(p Participant) Role {
	switch p.(type) {
	case Admin:
		return RoleAdmin
	default:
		return RoleUser
	}
}
