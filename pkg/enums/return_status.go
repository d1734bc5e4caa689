package enums

import "fmt"

// ReturnStatus tracks a return request.
type ReturnStatus string

const (
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusReceived  ReturnStatus = "received"
	ReturnStatusRefunded  ReturnStatus = "refunded"
	ReturnStatusCancelled ReturnStatus = "cancelled"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusRejected,
	ReturnStatusReceived,
	ReturnStatusRefunded,
	ReturnStatusCancelled,
}

// String implements fmt.Stringer.
func (v ReturnStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ReturnStatus.
func (v ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}

// IsOpen reports whether the return still blocks escrow release.
func (v ReturnStatus) IsOpen() bool {
	switch v {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusReceived:
		return true
	}
	return false
}
