package users

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a single named permission granted inside a business unit.
type Permission struct {
	PermissionID   Scalar `json:"permission_id"`
	PermissionName string `json:"permission_name"`
}

// BusinessUnitUser is a user's membership of one business unit.
type BusinessUnitUser struct {
	BusinessUnitUserID string       `json:"business_unit_user_id"`
	BusinessUnitID     Scalar       `json:"business_unit_id"`
	Permissions        []Permission `json:"permissions"`
}

// UserState is the user directory's view of the signed-in user.
// It is fetched per request and never cached by the gateway.
type UserState struct {
	UserID            Scalar             `json:"user_id"`
	Username          string             `json:"username"`
	Name              string             `json:"name"`
	Status            *string            `json:"status"`
	Version           Scalar             `json:"version"` // opaque concurrency token
	BusinessUnitUsers []BusinessUnitUser `json:"business_unit_users"`
}

// Scalar is an identifier that the user directory may send as either a JSON
// string or a JSON number. null decodes to the empty value.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("scalar must be a string or number: %w", err)
	}
	*s = Scalar(num.String())
	return nil
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	// Numeric identifiers go back out as numbers.
	if (s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) && json.Valid([]byte(s)) {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

func (s Scalar) String() string {
	return string(s)
}
