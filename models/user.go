package models

import "time"

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

const (
	// MinUserAge and MaxUserAge bound the accepted profile age range.
	MinUserAge = 1
	MaxUserAge = 120
)

// User models a household profile capable of holding wearable data.
// Whether a profile is the signed-in account ("self") is derived from the
// storage slot it lives in, never from a field on the record.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// DeviceID is the retired single-device pointer. It is read once while
	// normalizing the assignment map and never written back.
	DeviceID string `json:"deviceId,omitempty"`
}

// UserProfile captures data required to create a profile.
type UserProfile struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
}

// UserPatch carries optional profile edits. Nil fields are left untouched.
type UserPatch struct {
	Name   *string `json:"name,omitempty"`
	Age    *int    `json:"age,omitempty"`
	Gender *string `json:"gender,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Email  *string `json:"email,omitempty"`
}

// ValidGender reports whether g is one of the accepted gender values.
func ValidGender(g string) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}
