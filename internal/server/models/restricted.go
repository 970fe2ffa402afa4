package models

// RestrictedView is the ICE projection of a capsule: the owner's name and
// emergency contact. No other content field has anywhere to go.
type RestrictedView struct {
	OwnerName        string            `json:"ownerName"`
	EmergencyContact *EmergencyContact `json:"emergencyContact,omitempty"`
}

// EmergencyContact holds the allow-listed contact fields.
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}
