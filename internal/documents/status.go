package documents

import "fmt"

// RequestStatus is the lifecycle state of an approval-request document.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	// StatusDeclined is an alias some authorizer builds write instead of
	// rejected; both are the same terminal outcome.
	StatusDeclined RequestStatus = "declined"
)

var validRequestStatuses = []RequestStatus{
	StatusPending, StatusApproved, StatusRejected, StatusDeclined,
}

// IsValid reports whether the value matches the request status enum.
func (s RequestStatus) IsValid() bool {
	for _, candidate := range validRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the request lifecycle.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s.IsRejection()
}

// IsRejection folds the rejected/declined spelling variants together.
func (s RequestStatus) IsRejection() bool {
	return s == StatusRejected || s == StatusDeclined
}

// ParseRequestStatus converts the raw string to a RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	for _, candidate := range validRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid request status %q", value)
}
