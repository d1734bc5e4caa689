package enums

import "fmt"

// CartStatus is active until checkout converts the cart into an order.
// Converted carts are kept read-only as the link from order back to cart.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusConverted CartStatus = "converted"
)

func (v CartStatus) String() string {
	return string(v)
}

func (v CartStatus) IsValid() bool {
	switch v {
	case CartStatusActive, CartStatusConverted:
		return true
	}
	return false
}

// Editable reports whether items may still be added, changed or checked out.
func (v CartStatus) Editable() bool {
	return v == CartStatusActive
}

// UnmarshalText rejects unknown statuses when decoding JSON or query values.
func (v *CartStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseCartStatus(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	if s := CartStatus(value); s.IsValid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}
