// Package authz is the pure authorization policy of the directory. Every
// predicate is total and side-effect free; callers translate a false result
// into a forbidden outcome.
package authz

import (
	"github.com/mvoronova/golinks/internal/models"
	"github.com/mvoronova/golinks/internal/user"
)

// CanMutateLink reports whether the actor may edit or delete the link.
// Ownership is the sole basis for mutation rights absent the admin override.
func CanMutateLink(actor user.Actor, link *models.Link) bool {
	if !actor.IsAuthenticated || link == nil {
		return false
	}

	return actor.ID == link.OwnerID || actor.IsAdmin
}

// CanManageUsers reports whether the actor may create, list, delete or
// promote users.
func CanManageUsers(actor user.Actor) bool {
	return actor.IsAuthenticated && actor.IsAdmin
}

// CanTargetUser reports whether an admin action may be applied to targetID.
// Self-targeting admin actions (delete own account, toggle own admin flag)
// are always denied, so a sole admin cannot lock the directory out.
func CanTargetUser(actor user.Actor, targetID string) bool {
	return actor.ID != targetID
}
