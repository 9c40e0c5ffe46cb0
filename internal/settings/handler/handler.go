package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"setman/internal/schema"
	"setman/internal/settings/lazy"
	"setman/internal/settings/metrics"
	"setman/internal/settings/models"
	dErrors "setman/pkg/domain-errors"
	"setman/pkg/platform/httputil"
	"setman/pkg/requestcontext"
)

// Handler serves the settings edit and revert endpoints.
type Handler struct {
	settings *lazy.Settings
	schema   *schema.Schema
	logger   *slog.Logger
}

// New constructs a settings handler over the root settings view.
func New(settings *lazy.Settings, s *schema.Schema, logger *slog.Logger) *Handler {
	return &Handler{
		settings: settings,
		schema:   s,
		logger:   logger,
	}
}

// Register mounts the settings endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/settings", h.HandleView)
	r.Post("/settings", h.HandleEdit)
	r.Post("/settings/revert", h.HandleRevert)
}

// HandleView handles GET /settings.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tree, err := h.tree(ctx)
	if err != nil {
		h.fail(ctx, w, "settings view failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tree)
}

// HandleEdit handles POST /settings. Project settings are written first, then
// each app in name order; every group is saved on its own.
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[EditRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.settings.Update(ctx, req.Settings); err != nil {
		h.fail(ctx, w, "settings edit failed", err)
		return
	}
	apps := make([]string, 0, len(req.Apps))
	for app := range req.Apps {
		apps = append(apps, app)
	}
	slices.Sort(apps)
	for _, app := range apps {
		view, err := h.settings.App(ctx, app)
		if err != nil {
			h.fail(ctx, w, "settings edit failed", err)
			return
		}
		if err := view.Update(ctx, req.Apps[app]); err != nil {
			h.fail(ctx, w, "settings edit failed", err)
			return
		}
	}

	h.logger.InfoContext(ctx, "settings edited",
		"request_id", requestID,
		"settings", len(req.Settings),
		"apps", apps,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.HandleView(w, r)
}

// HandleRevert handles POST /settings/revert[?app=NAME].
func (h *Handler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	view := h.settings
	app := r.URL.Query().Get("app")
	if app != "" {
		var err error
		if view, err = h.settings.App(ctx, app); err != nil {
			h.fail(ctx, w, "settings revert failed", err)
			return
		}
	}
	if err := view.Revert(ctx); err != nil {
		h.fail(ctx, w, "settings revert failed", err)
		return
	}

	h.logger.InfoContext(ctx, "settings reverted",
		"request_id", requestID,
		"app", app,
	)
	h.HandleView(w, r)
}

func (h *Handler) tree(ctx context.Context) (*TreeResponse, error) {
	resp := &TreeResponse{
		Path:     h.schema.Path,
		Settings: []SettingResponse{},
		Apps:     []AppResponse{},
	}
	for _, d := range h.schema.Settings() {
		item, err := h.describe(ctx, h.settings, d)
		if err != nil {
			return nil, err
		}
		resp.Settings = append(resp.Settings, item)
	}
	for _, c := range h.schema.Containers() {
		view, err := h.settings.App(ctx, c.AppName)
		if err != nil {
			return nil, err
		}
		app := AppResponse{Name: c.AppName, Path: c.Path, Settings: []SettingResponse{}}
		for _, d := range c.Settings() {
			item, err := h.describe(ctx, view, d)
			if err != nil {
				return nil, err
			}
			app.Settings = append(app.Settings, item)
		}
		resp.Apps = append(resp.Apps, app)
	}
	return resp, nil
}

func (h *Handler) describe(ctx context.Context, view *lazy.Settings, d *schema.Definition) (SettingResponse, error) {
	v, err := view.Get(ctx, d.Name)
	if err != nil {
		return SettingResponse{}, err
	}
	// An app setting is overridden only by its own app's entry; a project
	// level value it falls through to belongs to the project section.
	overridden := v.Source() == metrics.SourceAppRecord
	if view.Prefix() == "" {
		overridden = v.Source() == metrics.SourceRecord
	}
	return newSettingResponse(d, v.Raw(), v.Source(), overridden), nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, models.ErrUnknownSetting) {
		err = dErrors.Wrap(err, dErrors.CodeNotFound, "")
	}
	level := slog.LevelError
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal && code != dErrors.CodeTimeout {
		level = slog.LevelWarn
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
