package enums

import "fmt"

// ShipmentStatus tracks a single parcel.
type ShipmentStatus string

const (
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusInTransit,
	ShipmentStatusDelivered,
}

// String implements fmt.Stringer.
func (v ShipmentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (v ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}
