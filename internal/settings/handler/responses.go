package handler

import "setman/internal/schema"

// SettingResponse describes one setting as the edit view shows it.
type SettingResponse struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Label      string   `json:"label,omitempty"`
	HelpText   string   `json:"help_text,omitempty"`
	Choices    []string `json:"choices,omitempty"`
	Value      any      `json:"value"`
	Default    any      `json:"default"`
	Source     string   `json:"source"`
	Overridden bool     `json:"overridden"`
}

// AppResponse groups the settings of one app container.
type AppResponse struct {
	Name     string            `json:"name"`
	Path     string            `json:"path,omitempty"`
	Settings []SettingResponse `json:"settings"`
}

// TreeResponse is the full settings tree returned by every endpoint.
type TreeResponse struct {
	Path     string            `json:"path"`
	Settings []SettingResponse `json:"settings"`
	Apps     []AppResponse     `json:"apps"`
}

func newSettingResponse(d *schema.Definition, value any, source string, overridden bool) SettingResponse {
	return SettingResponse{
		Name:       d.Name,
		Type:       string(d.Kind),
		Label:      d.Label,
		HelpText:   d.HelpText,
		Choices:    d.Choices,
		Value:      value,
		Default:    d.Default,
		Source:     source,
		Overridden: overridden,
	}
}
