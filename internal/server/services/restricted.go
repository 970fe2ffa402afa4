package services

import "github.com/dmitrijs2005/capsulekeeper/internal/server/models"

// Keys the restricted view reads. Anything not listed here is never copied.
var (
	ownerNameKeys        = []string{"name", "fullName", "ownerName"}
	emergencyContactKeys = []string{"emergencyContact", "emergency_contact"}
)

// projectRestricted builds the ICE view from decrypted content. It reads only
// allow-listed top-level keys and only string values, so nested or aliased
// medical fields cannot leak through a contact object.
func projectRestricted(content map[string]any) *models.RestrictedView {
	v := &models.RestrictedView{
		OwnerName: firstString(content, ownerNameKeys...),
	}

	for _, key := range emergencyContactKeys {
		raw, ok := content[key].(map[string]any)
		if !ok {
			continue
		}
		ec := models.EmergencyContact{
			Name:         firstString(raw, "name"),
			Phone:        firstString(raw, "phone"),
			Relationship: firstString(raw, "relationship"),
		}
		if ec == (models.EmergencyContact{}) {
			continue
		}
		v.EmergencyContact = &ec
		break
	}

	return v
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
