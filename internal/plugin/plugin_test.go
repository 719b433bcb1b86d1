package plugin

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/ca-x/asset-syncer/internal/build"
	"github.com/ca-x/asset-syncer/internal/cdnizer"
	"github.com/ca-x/asset-syncer/internal/invalidate"
	"github.com/ca-x/asset-syncer/internal/rule"
	"github.com/ca-x/asset-syncer/internal/storage"
	"github.com/ca-x/asset-syncer/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	err     error
}

func (m *memoryStore) Name() string { return "memory" }
func (m *memoryStore) Type() string { return "memory" }

func (m *memoryStore) Put(ctx context.Context, obj *storage.Object) error {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Bucket()+"/"+obj.Key] = data
	return nil
}

type memoryCDN struct {
	mu     sync.Mutex
	inputs []*cloudfront.CreateInvalidationInput
	err    error
}

func (c *memoryCDN) CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, params)
	return &cloudfront.CreateInvalidationOutput{}, nil
}

type env struct {
	store    *memoryStore
	cdn      *memoryCDN
	conn     *Connection
	connects int
	out      string
}

func newEnv(t *testing.T, assets map[string]string) *env {
	t.Helper()
	e := &env{
		store: &memoryStore{objects: make(map[string][]byte)},
		cdn:   &memoryCDN{},
		out:   t.TempDir(),
	}
	e.conn = NewConnection(func(ctx context.Context) (Clients, error) {
		e.connects++
		return Clients{Uploader: e.store, CDN: e.cdn}, nil
	})
	for name, content := range assets {
		p := filepath.Join(e.out, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return e
}

func (e *env) result(assets ...string) *build.Result {
	return &build.Result{OutputPath: e.out, Assets: assets}
}

func bucket(name string) upload.Template {
	return upload.Template{storage.ParamBucket: upload.Constant(name)}
}

func run(t *testing.T, p *Plugin, r *build.Result) error {
	t.Helper()
	return build.NewHooks(p).Done(context.Background(), r)
}

func TestUploadWithBasePath(t *testing.T) {
	e := newEnv(t, map[string]string{"app.js": "console.log('build')"})
	p := New(Options{BasePath: "test", UploadOptions: bucket("assets")}, e.conn, zap.NewNop())

	r := e.result("app.js")
	require.NoError(t, run(t, p, r))
	assert.False(t, r.HasErrors())

	local, err := os.ReadFile(filepath.Join(e.out, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, local, e.store.objects["assets/test/app.js"])

	report := p.LastReport()
	require.NotNil(t, report)
	assert.Equal(t, []string{"test/app.js"}, report.Keys)
	assert.NotEmpty(t, report.PassID)
}

func TestMissingBucketIsConfigurationError(t *testing.T) {
	e := newEnv(t, map[string]string{"app.js": "x"})
	p := New(Options{UploadOptions: upload.Template{}}, e.conn, nil)

	r := e.result("app.js")
	err := run(t, p, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrConfiguration)
	assert.Contains(t, errs[0].Error(), Name+":")
	assert.Zero(t, e.store.puts)
	assert.Equal(t, Disconnected, e.conn.State())
}

func TestCDNRewriteBeforeUpload(t *testing.T) {
	e := newEnv(t, map[string]string{
		"index.html": `<html><body><script src="app.js"></script></body></html>`,
		"app.js":     "console.log(1)",
	})
	p := New(Options{
		UploadOptions: bucket("assets"),
		CDNizer:       cdnizer.Options{DefaultCDNBase: "https://cdn.example.com"},
	}, e.conn, nil)

	require.NoError(t, run(t, p, e.result("index.html", "app.js")))

	local, err := os.ReadFile(filepath.Join(e.out, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(local), `src="https://cdn.example.com/app.js"`)
	assert.Equal(t, local, e.store.objects["assets/index.html"])
}

func TestRewriteSkipsFilteredReferences(t *testing.T) {
	e := newEnv(t, map[string]string{
		"index.html": `<script src="app.js"></script><script src="local.js"></script>`,
		"app.js":     "a",
		"local.js":   "b",
		"extra.html": `<script src="app.js"></script>`,
	})
	p := New(Options{
		UploadOptions: bucket("assets"),
		Exclude:       rule.Literal(`^local\.js$|^extra\.html$`),
		HTMLFiles:     []string{"extra.html"},
		CDNizer:       cdnizer.Options{DefaultCDNBase: "https://cdn.example.com"},
	}, e.conn, nil)

	require.NoError(t, run(t, p, e.result("index.html", "app.js", "local.js")))

	index, err := os.ReadFile(filepath.Join(e.out, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `src="https://cdn.example.com/app.js"`)
	assert.Contains(t, string(index), `src="local.js"`)

	extra, err := os.ReadFile(filepath.Join(e.out, "extra.html"))
	require.NoError(t, err)
	assert.Contains(t, string(extra), `src="https://cdn.example.com/app.js"`)

	_, uploaded := e.store.objects["assets/local.js"]
	assert.False(t, uploaded)
	_, uploaded = e.store.objects["assets/extra.html"]
	assert.False(t, uploaded)
}

func TestDirectorySourceWithFilters(t *testing.T) {
	e := newEnv(t, map[string]string{
		"js/app.js":     "a",
		"js/app.min.js": "b",
		"css/site.css":  "c",
		"img/logo.png":  "d",
		".DS_Store":     "junk",
	})
	p := New(Options{
		Directory:     e.out,
		Include:       rule.Literal(`\.(js|css)$`),
		Exclude:       rule.Literal(`\.min\.`),
		UploadOptions: bucket("assets"),
	}, e.conn, nil)

	// the build result's own assets are ignored when a directory is set
	require.NoError(t, run(t, p, e.result("unused.js")))

	var keys []string
	for k := range e.store.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"assets/css/site.css", "assets/js/app.js"}, keys)
}

func TestIgnoreAppliesToBuildAssets(t *testing.T) {
	e := newEnv(t, map[string]string{"app.js": "a", ".DS_Store": "junk", "app.js.map": "{}"})
	p := New(Options{
		Include:       rule.Literal(`.*`),
		Ignore:        []string{"*.map"},
		UploadOptions: bucket("assets"),
	}, e.conn, nil)

	require.NoError(t, run(t, p, e.result("app.js", ".DS_Store", "app.js.map")))
	assert.Len(t, e.store.objects, 1)
	assert.Contains(t, e.store.objects, "assets/app.js")
}

func TestInvalidationAfterUpload(t *testing.T) {
	e := newEnv(t, map[string]string{"index.html": "<html></html>"})
	ids, err := invalidate.NormalizeIDs("E2QWRUHAPOMQZL")
	require.NoError(t, err)

	p := New(Options{
		UploadOptions: bucket("assets"),
		Invalidation:  invalidate.Options{DistributionIDs: ids, Items: []string{"/index.html"}},
	}, e.conn, nil)

	require.NoError(t, run(t, p, e.result("index.html")))
	require.Len(t, e.cdn.inputs, 1)
	assert.Equal(t, "E2QWRUHAPOMQZL", aws.ToString(e.cdn.inputs[0].DistributionId))
	assert.Equal(t, 1, p.LastReport().Invalidations)
}

func TestStageFailuresAreRecorded(t *testing.T) {
	t.Run("listing", func(t *testing.T) {
		e := newEnv(t, nil)
		p := New(Options{Directory: filepath.Join(e.out, "missing"), UploadOptions: bucket("b")}, e.conn, nil)
		r := e.result()
		err := run(t, p, r)
		assert.ErrorIs(t, err, ErrListing)
		assert.Len(t, r.Errors(), 1)
	})

	t.Run("upload", func(t *testing.T) {
		e := newEnv(t, map[string]string{"app.js": "a"})
		e.store.err = errors.New("denied")
		p := New(Options{UploadOptions: bucket("b")}, e.conn, nil)
		r := e.result("app.js")
		err := run(t, p, r)
		assert.ErrorIs(t, err, ErrUpload)
		assert.Len(t, r.Errors(), 1)
	})

	t.Run("invalidation", func(t *testing.T) {
		e := newEnv(t, map[string]string{"app.js": "a"})
		e.cdn.err = errors.New("throttled")
		p := New(Options{
			UploadOptions: bucket("b"),
			Invalidation:  invalidate.Options{DistributionIDs: []string{"E1"}, Items: []string{"/*"}},
		}, e.conn, nil)
		r := e.result("app.js")
		err := run(t, p, r)
		assert.ErrorIs(t, err, ErrInvalidation)
		assert.Len(t, r.Errors(), 1)
	})

	t.Run("rewrite", func(t *testing.T) {
		e := newEnv(t, nil)
		p := New(Options{
			UploadOptions: bucket("b"),
			CDNizer:       cdnizer.Options{DefaultCDNBase: "https://cdn"},
		}, e.conn, nil)
		r := e.result("missing.html")
		err := run(t, p, r)
		assert.ErrorIs(t, err, ErrRewrite)
		assert.Zero(t, e.store.puts)
	})

	t.Run("invalid rule", func(t *testing.T) {
		e := newEnv(t, map[string]string{"app.js": "a"})
		p := New(Options{UploadOptions: bucket("b"), Include: rule.Literal("(")}, e.conn, nil)
		err := run(t, p, e.result("app.js"))
		assert.ErrorIs(t, err, rule.ErrInvalidRule)
	})
}

func TestConnectionIsReused(t *testing.T) {
	e := newEnv(t, map[string]string{"app.js": "a"})
	p := New(Options{UploadOptions: bucket("b")}, e.conn, nil)

	require.NoError(t, run(t, p, e.result("app.js")))
	require.NoError(t, run(t, p, e.result("app.js")))
	assert.Equal(t, 1, e.connects)
	assert.Equal(t, Connected, e.conn.State())
}

func TestConnectionRetriesAfterFailure(t *testing.T) {
	attempts := 0
	conn := NewConnection(func(ctx context.Context) (Clients, error) {
		attempts++
		if attempts == 1 {
			return Clients{}, errors.New("no credentials")
		}
		return Clients{}, nil
	})

	_, err := conn.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Disconnected, conn.State())

	_, err = conn.Connect(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, Connected, conn.State())
}
