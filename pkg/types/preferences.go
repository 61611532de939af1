package types

import "strings"

// VolumeIDPlaceholder is replaced with the volume id in VolumeIDURL
const VolumeIDPlaceholder = "VOLUMEID"

// Preferences are operator display settings, read-only to the console core
type Preferences struct {
	// VolumeIDLen truncates displayed volume ids; 0 means unlimited
	VolumeIDLen int `json:"volume_id_len" yaml:"volume_id_len"`

	// VolumeIDURL is a link template containing VOLUMEID; empty disables links
	VolumeIDURL string `json:"volume_id_url" yaml:"volume_id_url"`
}

// TruncateVolumeID shortens id for display. The model always keeps the full value.
func (p Preferences) TruncateVolumeID(id string) string {
	if p.VolumeIDLen <= 0 {
		return id
	}
	runes := []rune(id)
	if len(runes) <= p.VolumeIDLen {
		return id
	}
	return string(runes[:p.VolumeIDLen])
}

// VolumeLink expands the link template for id, or returns "" when links are
// disabled or id is empty.
func (p Preferences) VolumeLink(id string) string {
	if p.VolumeIDURL == "" || id == "" {
		return ""
	}
	return strings.ReplaceAll(p.VolumeIDURL, VolumeIDPlaceholder, id)
}
