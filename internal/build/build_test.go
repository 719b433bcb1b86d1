package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"outputPath":"dist","assets":["app.js","index.html"]}`), 0644))

	r, err := LoadManifest(manifest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dist"), r.OutputPath)
	assert.Equal(t, []string{"app.js", "index.html"}, r.Assets)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0644))
	_, err = LoadManifest(bad)
	assert.Error(t, err)

	noOutput := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(noOutput, []byte(`{"assets":[]}`), 0644))
	_, err = LoadManifest(noOutput)
	assert.Error(t, err)
}

func TestFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("y"), 0644))

	r, err := FromDirectory(context.Background(), dir)
	require.NoError(t, err)
	sort.Strings(r.Assets)
	assert.Equal(t, []string{"index.html", "js/app.js"}, r.Assets)
}

type recordingPlugin struct {
	name  string
	calls *[]string
}

func (p recordingPlugin) Apply(hooks *Hooks) {
	hooks.OnDone(p.name, func(ctx context.Context, r *Result) error {
		*p.calls = append(*p.calls, p.name)
		return nil
	})
}

func TestNewHooksAppliesPlugins(t *testing.T) {
	var calls []string
	hooks := NewHooks(recordingPlugin{"a", &calls}, recordingPlugin{"b", &calls})

	require.NoError(t, hooks.Done(context.Background(), &Result{}))
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestHooksDone(t *testing.T) {
	hooks := NewHooks()
	var calls []string
	recorded := errors.New("recorded by hook")

	hooks.OnDone("first", func(ctx context.Context, r *Result) error {
		calls = append(calls, "first")
		r.AddError(recorded)
		return recorded
	})
	hooks.OnDone("second", func(ctx context.Context, r *Result) error {
		calls = append(calls, "second")
		return errors.New("not recorded")
	})
	hooks.OnDone("third", func(ctx context.Context, r *Result) error {
		calls = append(calls, "third")
		return nil
	})

	result := &Result{}
	err := hooks.Done(context.Background(), result)
	require.Error(t, err)
	assert.ErrorIs(t, err, recorded)
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	errs := result.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, recorded, errs[0])
	assert.EqualError(t, errs[1], "second: not recorded")
	assert.True(t, result.HasErrors())
}
