package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is the shipping destination captured at checkout. It is stored as jsonb.
type Address struct {
	Name       string  `json:"name,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code,omitempty"`
	Country    string  `json:"country"`
	Phone      string  `json:"phone,omitempty"`
}

// IsZero reports whether no address was captured.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Line1) == "" && strings.TrimSpace(a.City) == ""
}

// CountryCode returns the upper-cased ISO country, defaulting to NG.
func (a Address) CountryCode() string {
	country := strings.ToUpper(strings.TrimSpace(a.Country))
	if country == "" {
		return "NG"
	}
	return country
}

// Value marshals the address into a jsonb literal.
func (a Address) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("address: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a jsonb column into the address.
func (a *Address) Scan(value interface{}) error {
	return scanJSON(value, a, "address")
}

func scanJSON(value interface{}, dest any, name string) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%s: unsupported scan type %T", name, value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%s: unmarshal: %w", name, err)
	}
	return nil
}
