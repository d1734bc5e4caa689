package types

import (
	"fmt"
	"strings"
)

// Address is the shipping destination captured at checkout. Stored as jsonb.
type Address struct {
	Name       string  `json:"name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	Region     string  `json:"region"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone,omitempty"`
}

// Validate checks the fields carriers need to ship a parcel.
func (a Address) Validate() error {
	missing := []string{}
	for field, value := range map[string]string{
		"name":        a.Name,
		"line1":       a.Line1,
		"city":        a.City,
		"postal_code": a.PostalCode,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("address: missing %s", strings.Join(missing, ", "))
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return fmt.Errorf("address: country must be a 2-letter code")
	}
	return nil
}
