package permission

import (
	"errors"
	"fmt"
)

// InvalidUserError reports a user that cannot be matched against roles.
type InvalidUserError struct {
	UID    string
	Reason string
}

func (e *InvalidUserError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("invalid user %q: %s", e.UID, e.Reason)
	}
	return "invalid user: " + e.Reason
}

// InvalidPermissionError reports a structurally malformed permission rule.
type InvalidPermissionError struct {
	Index  int
	Path   string
	Reason string
}

func (e *InvalidPermissionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid permission rule at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid permission rule %d: %s", e.Index, e.Reason)
}

// IsInvalidUser returns true if err is an InvalidUserError.
func IsInvalidUser(err error) bool {
	var iu *InvalidUserError
	return errors.As(err, &iu)
}

// IsInvalidPermission returns true if err is an InvalidPermissionError.
func IsInvalidPermission(err error) bool {
	var ip *InvalidPermissionError
	return errors.As(err, &ip)
}
