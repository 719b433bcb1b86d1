package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ca-x/asset-syncer/internal/build"
	"github.com/ca-x/asset-syncer/internal/config"
	"github.com/ca-x/asset-syncer/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestLoadResult(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("x"), 0644))
	manifest := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"outputPath":".","assets":["app.js"]}`), 0644))
	ctx := context.Background()

	r, err := loadResult(ctx, flags{manifest: manifest}, &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, dir, r.OutputPath)
	assert.Equal(t, []string{"app.js"}, r.Assets)

	r, err = loadResult(ctx, flags{outputPath: dir}, &config.Config{})
	require.NoError(t, err)
	assert.Contains(t, r.Assets, "app.js")

	r, err = loadResult(ctx, flags{}, &config.Config{Directory: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, r.OutputPath)
	assert.Empty(t, r.Assets)

	_, err = loadResult(ctx, flags{}, &config.Config{})
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "manifest", "output-path"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestOptionsRegisterPluginOnHooks(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "assetsync.yaml")
	// no bucket: the plugin must fail before connecting
	require.NoError(t, os.WriteFile(cfgFile, []byte("base_path: static\n"), 0644))

	var hooks *build.Hooks
	app := fx.New(options(flags{configFile: cfgFile}), fx.Populate(&hooks))
	require.NoError(t, app.Err())
	require.NotNil(t, hooks)

	result := &build.Result{OutputPath: dir}
	err := hooks.Done(context.Background(), result)
	assert.ErrorIs(t, err, plugin.ErrConfiguration)
	assert.Len(t, result.Errors(), 1)
}
