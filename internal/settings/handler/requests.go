package handler

import (
	dErrors "setman/pkg/domain-errors"
)

// EditRequest is the body of POST /settings. Apps maps an app name to the
// overrides for that app.
type EditRequest struct {
	Settings map[string]any            `json:"settings"`
	Apps     map[string]map[string]any `json:"apps"`
}

// Validate implements httputil.Validatable.
func (r *EditRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Settings) == 0 && len(r.Apps) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "settings or apps must contain at least one value")
	}
	for app, values := range r.Apps {
		if app == "" {
			return dErrors.New(dErrors.CodeBadRequest, "app name must not be empty")
		}
		if len(values) == 0 {
			return dErrors.New(dErrors.CodeBadRequest, "apps."+app+" must contain at least one value")
		}
	}
	return nil
}
