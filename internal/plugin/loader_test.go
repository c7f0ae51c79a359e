package plugin_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/handler"
	"ocm.software/open-component-model/server/internal/plugin"
	"ocm.software/open-component-model/server/internal/router"
	"ocm.software/open-component-model/server/internal/setup"
)

type env struct {
	context   *capability.Context
	mux       *router.Mux
	registrar *handler.Registrar
	catalog   *plugin.Catalog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c, err := capability.New(capability.Options{
		Paths:  capability.Paths{ServerHome: t.TempDir()},
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	mux := router.NewMux()
	return &env{context: c, mux: mux, registrar: handler.NewRegistrar(mux), catalog: plugin.NewCatalog()}
}

func (e *env) loader(t *testing.T, opts ...plugin.LoaderOption) *plugin.Loader {
	t.Helper()
	l, err := plugin.NewLoader(e.context, e.catalog, e.registrar, opts...)
	require.NoError(t, err)
	return l
}

func echoPlugin(name, path string) plugin.Factory {
	return func() plugin.Plugin {
		return plugin.Definition{
			PluginName: name,
			Handler: []handler.Descriptor{{
				Name: name, Method: http.MethodGet, Path: path,
				Factory: func(*capability.Context) router.HandlerFunc {
					return func(w http.ResponseWriter, r *http.Request) error {
						_, err := io.WriteString(w, name)
						return err
					}
				},
			}},
			Actions: []setup.Action{{Name: name + ":init", Run: func(context.Context, *capability.Context) error { return nil }}},
		}
	}
}

func writePlugin(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, plugin.ManifestFile), []byte(manifest), 0o644))
	return path
}

func TestLoader(t *testing.T) {
	t.Run("discovers and loads in order", func(t *testing.T) {
		e := newEnv(t)
		require.NoError(t, e.catalog.Register("example.com/beta", echoPlugin("beta", "/beta")))
		require.NoError(t, e.catalog.Register("example.com/alpha", echoPlugin("alpha", "/alpha")))
		root := t.TempDir()
		writePlugin(t, root, "b", "name: beta\npackage: example.com/beta\nversion: 1.0.0\n")
		writePlugin(t, root, "a", "name: alpha\npackage: example.com/alpha\nversion: 0.1.0\n")
		require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-plugin"), 0o755))

		l := e.loader(t)
		dirs, err := l.Discover(root)
		require.NoError(t, err)
		require.Equal(t, []string{filepath.Join(root, "a"), filepath.Join(root, "b")}, dirs)
		require.NoError(t, l.Load(t.Context(), dirs...))

		var names []string
		for _, d := range l.Loaded() {
			names = append(names, d.Name)
		}
		assert.Equal(t, []string{"alpha", "beta"}, names)
		assert.Len(t, l.SetupActions(), 2)
		assert.Equal(t, "beta", e.context.Plugins()[1].Name)

		rec := httptest.NewRecorder()
		e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/beta", nil))
		assert.Equal(t, "beta", rec.Body.String())
	})

	t.Run("missing directory yields no plugins", func(t *testing.T) {
		dirs, err := newEnv(t).loader(t).Discover(filepath.Join(t.TempDir(), "missing"))
		require.NoError(t, err)
		assert.Empty(t, dirs)
	})

	t.Run("skips disabled plugins", func(t *testing.T) {
		e := newEnv(t)
		require.NoError(t, e.catalog.Register("example.com/legacy", echoPlugin("legacy-ui", "/legacy")))
		dir := writePlugin(t, t.TempDir(), "legacy", "name: legacy-ui\npackage: example.com/legacy\nversion: 1.0.0\n")

		l := e.loader(t, plugin.WithDisabled("legacy-*"))
		d, err := l.LoadDir(t.Context(), dir)
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.Empty(t, l.Loaded())
	})

	t.Run("server version constraint", func(t *testing.T) {
		e := newEnv(t)
		require.NoError(t, e.catalog.Register("example.com/new", echoPlugin("new", "/new")))
		dir := writePlugin(t, t.TempDir(), "new", "name: new\npackage: example.com/new\nversion: 1.0.0\nserver: '>= 2.0.0'\n")

		_, err := e.loader(t, plugin.WithServerVersion(semver.MustParse("1.4.0"))).LoadDir(t.Context(), dir)
		require.ErrorIs(t, err, errdefs.ErrPluginLoad)

		d, err := e.loader(t, plugin.WithServerVersion(semver.MustParse("2.1.0"))).LoadDir(t.Context(), dir)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", d.Version)
	})

	t.Run("development server versions", func(t *testing.T) {
		for version, ok := range map[string]bool{
			"2.0.0-dev":                        true,
			"2.0.0-0.20260101120000-abcdef123": true,
			"2.1.0+build.7":                    true,
			"1.9.0-dev":                        false,
		} {
			t.Run(version, func(t *testing.T) {
				e := newEnv(t)
				require.NoError(t, e.catalog.Register("example.com/new", echoPlugin("new", "/new")))
				dir := writePlugin(t, t.TempDir(), "new", "name: new\npackage: example.com/new\nversion: 1.0.0\nserver: '>= 2.0.0'\n")

				_, err := e.loader(t, plugin.WithServerVersion(semver.MustParse(version))).LoadDir(t.Context(), dir)
				if ok {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, errdefs.ErrPluginLoad)
				}
			})
		}
	})

	t.Run("load failures", func(t *testing.T) {
		for name, manifest := range map[string]string{
			"unknown key":     "name: x\npackage: example.com/x\nversion: 1.0.0\nentrypoint: main.js\n",
			"missing package": "name: x\nversion: 1.0.0\n",
			"bad name":        "name: X Y\npackage: example.com/x\nversion: 1.0.0\n",
			"bad version":     "name: x\npackage: example.com/x\nversion: latest\n",
			"unknown package": "name: x\npackage: example.com/unknown\nversion: 1.0.0\n",
			"name mismatch":   "name: y\npackage: example.com/x\nversion: 1.0.0\n",
			"malformed yaml":  "name: [x\n",
			"bad constraint":  "name: x\npackage: example.com/x\nversion: 1.0.0\nserver: 'not a constraint'\n",
		} {
			t.Run(name, func(t *testing.T) {
				e := newEnv(t)
				require.NoError(t, e.catalog.Register("example.com/x", echoPlugin("x", "/x")))
				dir := writePlugin(t, t.TempDir(), "x", manifest)
				_, err := e.loader(t, plugin.WithServerVersion(semver.MustParse("1.0.0"))).LoadDir(t.Context(), dir)
				require.ErrorIs(t, err, errdefs.ErrPluginLoad)
			})
		}
	})

	t.Run("handler conflicts abort loading", func(t *testing.T) {
		e := newEnv(t)
		l := e.loader(t)
		_, err := l.LoadPlugin(t.Context(), echoPlugin("one", "/same")(), "one", "", "")
		require.NoError(t, err)
		_, err = l.LoadPlugin(t.Context(), echoPlugin("two", "/same")(), "two", "", "")
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		_, err = l.LoadPlugin(t.Context(), echoPlugin("one", "/other")(), "one", "", "")
		require.ErrorIs(t, err, errdefs.ErrPluginLoad)
		assert.Len(t, l.Loaded(), 1)
	})

	t.Run("invalid disabled pattern", func(t *testing.T) {
		e := newEnv(t)
		_, err := plugin.NewLoader(e.context, e.catalog, e.registrar, plugin.WithDisabled("[a"))
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
	})
}

func TestManifestSchema(t *testing.T) {
	raw, err := plugin.ManifestSchema()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"additionalProperties":false`)
	assert.Contains(t, string(raw), `"required"`)
}

func TestCatalog(t *testing.T) {
	c := plugin.NewCatalog()
	require.NoError(t, c.Register("b", echoPlugin("b", "/b")))
	require.NoError(t, c.Register("a", echoPlugin("a", "/a")))
	require.ErrorIs(t, c.Register("a", echoPlugin("a", "/a")), errdefs.ErrConfiguration)
	assert.Equal(t, []string{"a", "b"}, c.Packages())
	_, err := c.Lookup("missing")
	require.ErrorIs(t, err, errdefs.ErrPluginLoad)
}
