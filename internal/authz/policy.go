// Package authz is the single authorization policy for profile operations.
// Every route decides through Decide rather than repeating role/ownership
// checks inline.
package authz

import "gospelpress/internal/model"

type Action string

const (
	ActionView         Action = "view"
	ActionEdit         Action = "edit"
	ActionDelete       Action = "delete"
	ActionClone        Action = "clone"
	ActionManageAccess Action = "manage_access"
	ActionBackup       Action = "backup"
	ActionRestore      Action = "restore"
)

// Subject is the authenticated caller, or the zero value for an anonymous
// request. A legacy admin session produces a subject with Role "admin" and
// no user id.
type Subject struct {
	Authenticated bool
	UserID        string
	Email         string
	Role          string
}

// Resource carries the profile facts the policy needs. GrantedToSubject is
// resolved by the caller from the profile_grants table before deciding.
type Resource struct {
	OwnerID          string
	IsDefault        bool
	IsTemplate       bool
	GrantedToSubject bool
}

type Decision int

const (
	Deny Decision = iota
	Allow
	Unauthenticated
)

func Decide(sub Subject, res Resource, action Action) Decision {
	// Role comparison is exact-string: "ADMIN" is not "admin".
	isAdmin := sub.Role == model.RoleAdmin
	isOwner := sub.UserID != "" && sub.UserID == res.OwnerID

	if action == ActionView {
		if res.IsDefault {
			return Allow
		}
		if !sub.Authenticated {
			return Unauthenticated
		}
		if isAdmin || isOwner {
			return Allow
		}
		if res.IsTemplate && sub.Role == model.RoleCounselor {
			return Allow
		}
		if res.GrantedToSubject {
			return Allow
		}
		return Deny
	}

	if !sub.Authenticated {
		return Unauthenticated
	}

	switch action {
	case ActionManageAccess:
		if isAdmin || isOwner {
			return Allow
		}
		return Deny
	case ActionEdit:
		if sub.Role == model.RoleCounselee {
			return Deny
		}
		if isAdmin {
			return Allow
		}
		if isOwner && !res.IsDefault && !res.IsTemplate {
			return Allow
		}
		return Deny
	case ActionDelete:
		// The default profile is never deletable, regardless of role.
		if res.IsDefault {
			return Deny
		}
		if sub.Role == model.RoleCounselee {
			return Deny
		}
		if isAdmin || isOwner {
			return Allow
		}
		return Deny
	case ActionClone:
		if isAdmin {
			return Allow
		}
		if sub.Role == model.RoleCounselor && (res.IsTemplate || isOwner) {
			return Allow
		}
		return Deny
	case ActionBackup, ActionRestore:
		if sub.Role == model.RoleCounselee {
			return Deny
		}
		if res.IsDefault || res.IsTemplate {
			return Deny
		}
		if isAdmin || isOwner {
			return Allow
		}
		return Deny
	}
	return Deny
}
