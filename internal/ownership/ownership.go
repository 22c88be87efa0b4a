// Package ownership decides whether a principal may delete a post or comment.
package ownership

import "strings"

// CanDelete allows deletion when the record's author ID matches the principal.
// Records written before author IDs existed carry a blank authorID; those fall
// back to matching the stored author name against the principal's resolved
// display name. Pure function; callers re-check it before executing a delete
// since UI affordance checks alone are not a security boundary.
func CanDelete(authorID, authorName, principalID, principalName string) bool {
	if principalID == "" {
		return false
	}
	if authorID != "" {
		return authorID == principalID
	}
	name := strings.TrimSpace(principalName)
	return name != "" && strings.TrimSpace(authorName) == name
}
