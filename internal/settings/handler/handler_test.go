package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setman/internal/schema/schematest"
	"setman/internal/settings/cache"
	"setman/internal/settings/host"
	"setman/internal/settings/lazy"
	"setman/internal/settings/models"
	"setman/internal/settings/service"
	"setman/internal/settings/store/record"
	"setman/pkg/platform/httputil"
	"setman/pkg/platform/middleware/admin"
	"setman/pkg/testutil"
)

const adminToken = "secret-token"

type fixture struct {
	router http.Handler
	store  *record.InMemory
	host   *host.Map
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sch := schematest.New(t)
	store := record.NewInMemory(sch)
	svc, err := service.New(sch, store, cache.NewMemory())
	require.NoError(t, err)

	hostConfig := host.NewMap(map[string]any{"DEBUG": true})
	settings := lazy.New(svc, hostConfig)
	t.Cleanup(settings.Close)

	logger := slog.New(slog.DiscardHandler)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(adminToken, logger))
		New(settings, sch, logger).Register(r)
	})
	return &fixture{router: r, store: store, host: hostConfig}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set(admin.HeaderAdminToken, adminToken)
	return testutil.DoRequest(f.router, req)
}

func findSetting(t *testing.T, items []SettingResponse, name string) SettingResponse {
	t.Helper()
	for _, item := range items {
		if item.Name == name {
			return item
		}
	}
	t.Fatalf("setting %s not in response", name)
	return SettingResponse{}
}

func findApp(t *testing.T, tree *TreeResponse, name string) AppResponse {
	t.Helper()
	for _, app := range tree.Apps {
		if app.Name == name {
			return app
		}
	}
	t.Fatalf("app %s not in response", name)
	return AppResponse{}
}

func TestAdminTokenRequired(t *testing.T) {
	f := newFixture(t)
	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/settings"))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestHandleView(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, testutil.NewRequest(t, http.MethodGet, "/settings"))
	testutil.AssertStatusOK(t, rr)
	tree := testutil.UnmarshalResponse[TreeResponse](t, rr)

	title := findSetting(t, tree.Settings, "SITE_TITLE")
	assert.Equal(t, "My Site", title.Value)
	assert.Equal(t, "default", title.Source)
	assert.False(t, title.Overridden)

	debug := findSetting(t, tree.Settings, "DEBUG")
	assert.Equal(t, true, debug.Value)
	assert.Equal(t, "host", debug.Source)

	blog := findApp(t, tree, "blog")
	assert.Equal(t, float64(10), findSetting(t, blog.Settings, "POSTS_PER_PAGE").Value)
	assert.Len(t, tree.Apps, 2)
}

func TestHandleViewOverriddenIsPerSection(t *testing.T) {
	f := newFixture(t)
	seeded := models.NewRecord()
	seeded.Set("POSTS_PER_PAGE", 50)
	require.NoError(t, f.store.Create(context.Background(), seeded))

	rr := f.do(t, testutil.NewRequest(t, http.MethodGet, "/settings"))
	testutil.AssertStatusOK(t, rr)
	tree := testutil.UnmarshalResponse[TreeResponse](t, rr)

	posts := findSetting(t, findApp(t, tree, "blog").Settings, "POSTS_PER_PAGE")
	assert.Equal(t, float64(50), posts.Value)
	assert.Equal(t, "record", posts.Source)
	assert.False(t, posts.Overridden, "a project level value does not override the app setting")

	body := EditRequest{Apps: map[string]map[string]any{"blog": {"POSTS_PER_PAGE": 25}}}
	rr = f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body))
	testutil.AssertStatusOK(t, rr)
	tree = testutil.UnmarshalResponse[TreeResponse](t, rr)
	assert.True(t, findSetting(t, findApp(t, tree, "blog").Settings, "POSTS_PER_PAGE").Overridden)
	assert.False(t, findSetting(t, findApp(t, tree, "shop").Settings, "POSTS_PER_PAGE").Overridden)
}

func TestHandleEdit(t *testing.T) {
	testutil.Given(t, "an empty settings record", func(t *testing.T) {
		f := newFixture(t)

		testutil.When(t, "project and app settings are posted", func(t *testing.T) {
			body := EditRequest{
				Settings: map[string]any{"SITE_TITLE": "Edited", "DEBUG": false},
				Apps:     map[string]map[string]any{"blog": {"POSTS_PER_PAGE": 25}},
			}
			rr := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body))

			testutil.Then(t, "the tree reflects the new values", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				tree := testutil.UnmarshalResponse[TreeResponse](t, rr)
				title := findSetting(t, tree.Settings, "SITE_TITLE")
				assert.Equal(t, "Edited", title.Value)
				assert.True(t, title.Overridden)
				posts := findSetting(t, findApp(t, tree, "blog").Settings, "POSTS_PER_PAGE")
				assert.Equal(t, float64(25), posts.Value)
				assert.Equal(t, "app_record", posts.Source)
			})

			testutil.Then(t, "record values are persisted and host values are not", func(t *testing.T) {
				rec, err := f.store.Get(context.Background())
				require.NoError(t, err)
				assert.Equal(t, "Edited", rec.Get("SITE_TITLE"))
				assert.Equal(t, 25, rec.App("blog", false)["POSTS_PER_PAGE"])
				assert.False(t, rec.Has("DEBUG"))
				v, _ := f.host.Get("DEBUG")
				assert.Equal(t, false, v)
			})
		})
	})

	t.Run("validation errors are returned per field", func(t *testing.T) {
		f := newFixture(t)
		body := EditRequest{Apps: map[string]map[string]any{"blog": {"POSTS_PER_PAGE": 1000}}}
		rr := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body))

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		resp := testutil.UnmarshalResponse[httputil.ErrorResponse](t, rr)
		assert.Equal(t, "validation_error", resp.Error)
		assert.Contains(t, resp.Fields, "blog.POSTS_PER_PAGE")
	})

	t.Run("unknown settings are not found", func(t *testing.T) {
		f := newFixture(t)
		body := EditRequest{Settings: map[string]any{"NOPE": 1}}
		rr := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body))

		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("unknown apps are not found", func(t *testing.T) {
		f := newFixture(t)
		body := EditRequest{Apps: map[string]map[string]any{"forum": {"POSTS_PER_PAGE": 1}}}
		rr := f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body))

		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("empty edits are rejected", func(t *testing.T) {
		f := newFixture(t)
		rr := f.do(t, testutil.NewRequestWithBody(t, http.MethodPost, "/settings", `{}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		f := newFixture(t)
		rr := f.do(t, testutil.NewRequestWithBody(t, http.MethodPost, "/settings", `{"settings":`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestHandleRevert(t *testing.T) {
	f := newFixture(t)
	body := EditRequest{
		Settings: map[string]any{"SITE_TITLE": "Edited"},
		Apps:     map[string]map[string]any{"blog": {"POSTS_PER_PAGE": 25}, "shop": {"POSTS_PER_PAGE": 7}},
	}
	testutil.AssertStatusOK(t, f.do(t, testutil.NewJSONRequest(t, http.MethodPost, "/settings", body)))

	t.Run("one app", func(t *testing.T) {
		rr := f.do(t, testutil.NewRequest(t, http.MethodPost, "/settings/revert?app=blog"))
		testutil.AssertStatusOK(t, rr)

		rec, err := f.store.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, rec.App("blog", false)["POSTS_PER_PAGE"])
		assert.Equal(t, 7, rec.App("shop", false)["POSTS_PER_PAGE"])
		assert.Equal(t, "Edited", rec.Get("SITE_TITLE"))
	})

	t.Run("everything", func(t *testing.T) {
		rr := f.do(t, testutil.NewRequest(t, http.MethodPost, "/settings/revert"))
		testutil.AssertStatusOK(t, rr)
		tree := testutil.UnmarshalResponse[TreeResponse](t, rr)
		assert.Equal(t, "My Site", findSetting(t, tree.Settings, "SITE_TITLE").Value)
		assert.Equal(t, float64(5), findSetting(t, findApp(t, tree, "shop").Settings, "POSTS_PER_PAGE").Value)
	})

	t.Run("unknown app", func(t *testing.T) {
		rr := f.do(t, testutil.NewRequest(t, http.MethodPost, "/settings/revert?app=forum"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})
}

func TestEditRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     *EditRequest
		wantErr bool
	}{
		{"nil", nil, true},
		{"empty", &EditRequest{}, true},
		{"empty app", &EditRequest{Apps: map[string]map[string]any{"blog": {}}}, true},
		{"project only", &EditRequest{Settings: map[string]any{"SITE_TITLE": "x"}}, false},
		{"app only", &EditRequest{Apps: map[string]map[string]any{"blog": {"COMMENTS": false}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
