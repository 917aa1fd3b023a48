package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraper-backend/pkg/content"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

// zeroRand 总是选择第一个
type zeroRand struct{}

func (zeroRand) Intn(int) int { return 0 }

type failingContent struct {
	content.Store
}

func (failingContent) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func newTestFetcher(t *testing.T, tasks TaskLookup) (*Fetcher, content.Store) {
	t.Helper()
	cs, err := content.NewFileStore(t.TempDir())
	require.NoError(t, err)
	f := New(Config{ConnectTimeout: 2 * time.Second}, tasks, cs,
		NewUserAgentPool([]string{"test-agent/1.0"}), zeroRand{}, zerolog.Nop())
	return f, cs
}

func newTask(id, url string, spec types.RequestSpec) *types.Task {
	return &types.Task{ID: id, URL: url, Spec: spec, Status: types.TaskStatusInProgress}
}

func TestRunRetriesThenError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	for _, retries := range []int{0, 2, 4} {
		hits.Store(0)
		f, cs := newTestFetcher(t, nil)
		task := newTask(fmt.Sprintf("t-%d", retries), srv.URL, types.RequestSpec{Retries: retries, NoProxy: true, Timeout: 5})

		res := f.Run(context.Background(), task, nil)
		assert.Equal(t, types.TaskStatusError, res.Status)
		require.NotNil(t, res.ErrorReason)
		assert.Equal(t, types.CheckHTTPError, *res.ErrorReason)
		assert.Equal(t, retries+1, res.Attempts)
		assert.Equal(t, int32(retries+1), hits.Load())

		ok, err := cs.Exists(context.Background(), task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestRunDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		fmt.Fprint(w, "hello world")
	}))
	defer srv.Close()

	f, cs := newTestFetcher(t, nil)
	task := newTask("done-1", srv.URL, types.RequestSpec{Retries: 0, NoProxy: true, Timeout: 5})
	res := f.Run(context.Background(), task, nil)

	assert.Equal(t, types.TaskStatusDone, res.Status)
	assert.Nil(t, res.ErrorReason)
	assert.Greater(t, res.DownloadTime, 0.0)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.CacheHit)

	data, err := cs.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestRunRecoversAfterFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, nil)
	res := f.Run(context.Background(), newTask("recover", srv.URL, types.RequestSpec{Retries: 3, NoProxy: true}), nil)
	assert.Equal(t, types.TaskStatusDone, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Nil(t, res.ErrorReason)
}

func TestRunContentWriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := New(Config{}, nil, failingContent{}, nil, zeroRand{}, zerolog.Nop())
	res := f.Run(context.Background(), newTask("fail-put", srv.URL, types.RequestSpec{Retries: 1, NoProxy: true}), nil)
	assert.Equal(t, types.TaskStatusError, res.Status)
	require.NotNil(t, res.ErrorReason)
	assert.Equal(t, types.CheckGeneralError, *res.ErrorReason)
	assert.Equal(t, 2, res.Attempts)
}

func TestRunCacheHit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()

	ctx := context.Background()
	tasks := store.NewMemoryStore()
	f, cs := newTestFetcher(t, tasks)

	prev := &types.Task{URL: srv.URL, Spec: types.RequestSpec{
		Method: "GET",
		Params: map[string]string{"a": "1", "b": "2"},
	}}
	require.NoError(t, tasks.CreateTask(ctx, prev))
	_, err := tasks.ClaimTasks(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, tasks.CompleteTask(ctx, prev.ID, &types.TaskResult{Status: types.TaskStatusDone}))
	require.NoError(t, cs.Put(ctx, prev.ID, []byte("cached body")))

	task := &types.Task{URL: srv.URL, Spec: types.RequestSpec{
		Method:   "get",
		Params:   map[string]string{"b": "2", "a": "1"},
		Headers:  map[string]string{"X-Ignored": "yes"},
		UseCache: true,
	}}
	require.NoError(t, tasks.CreateTask(ctx, task))

	res := f.Run(ctx, task, nil)
	assert.Equal(t, types.TaskStatusDone, res.Status)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, int32(0), hits.Load())

	want, err := cs.Get(ctx, prev.ID)
	require.NoError(t, err)
	got, err := cs.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// 参数不同则正常抓取
	other := &types.Task{URL: srv.URL, Spec: types.RequestSpec{
		Method: "GET", Params: map[string]string{"a": "1"}, UseCache: true, NoProxy: true,
	}}
	require.NoError(t, tasks.CreateTask(ctx, other))
	res = f.Run(ctx, other, nil)
	assert.Equal(t, types.TaskStatusDone, res.Status)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRunCacheMissingBlobFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()

	ctx := context.Background()
	tasks := store.NewMemoryStore()
	f, cs := newTestFetcher(t, tasks)

	prev := &types.Task{URL: srv.URL, Spec: types.RequestSpec{Method: "GET"}}
	require.NoError(t, tasks.CreateTask(ctx, prev))
	_, err := tasks.ClaimTasks(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, tasks.CompleteTask(ctx, prev.ID, &types.TaskResult{Status: types.TaskStatusDone}))

	task := &types.Task{ID: "next", URL: srv.URL, Spec: types.RequestSpec{Method: "GET", UseCache: true, NoProxy: true}}
	res := f.Run(ctx, task, nil)
	assert.Equal(t, types.TaskStatusDone, res.Status)
	assert.False(t, res.CacheHit)

	data, err := cs.Get(ctx, "next")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestRequestConstruction(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		query   string
		form    string
		cookies []*http.Cookie
		method  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		headers = r.Header.Clone()
		query = r.URL.RawQuery
		form = string(body)
		cookies = r.Cookies()
		method = r.Method
		mu.Unlock()
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, nil)

	t.Run("get", func(t *testing.T) {
		res := f.Run(context.Background(), newTask("get", srv.URL+"/path?x=0", types.RequestSpec{
			Params:  map[string]string{"q": "go lang"},
			Cookies: map[string]string{"sid": "abc"},
			Headers: map[string]string{"x-custom": "1"},
			NoProxy: true,
		}), nil)
		require.Equal(t, types.TaskStatusDone, res.Status)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodGet, method)
		assert.Contains(t, query, "x=0")
		assert.Contains(t, query, "q=go+lang")
		assert.Equal(t, "gzip, deflate, br", headers.Get("Accept-Encoding"))
		assert.Equal(t, "test-agent/1.0", headers.Get("User-Agent"))
		assert.Equal(t, "1", headers.Get("X-Custom"))
		require.Len(t, cookies, 1)
		assert.Equal(t, "abc", cookies[0].Value)
	})

	t.Run("post with overrides", func(t *testing.T) {
		res := f.Run(context.Background(), newTask("post", srv.URL, types.RequestSpec{
			Method:    "post",
			Params:    map[string]string{"name": "value"},
			UserAgent: "explicit-agent",
			Headers:   map[string]string{"User-Agent": "caller-agent", "Accept-Encoding": "identity"},
			NoProxy:   true,
		}), nil)
		require.Equal(t, types.TaskStatusDone, res.Status)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, method)
		assert.Equal(t, "name=value", form)
		assert.Empty(t, query)
		assert.Equal(t, "caller-agent", headers.Get("User-Agent"))
		assert.Equal(t, "identity", headers.Get("Accept-Encoding"))
		assert.Equal(t, "application/x-www-form-urlencoded", headers.Get("Content-Type"))
	})

	t.Run("explicit user agent", func(t *testing.T) {
		res := f.Run(context.Background(), newTask("ua", srv.URL, types.RequestSpec{UserAgent: "explicit-agent", NoProxy: true}), nil)
		require.Equal(t, types.TaskStatusDone, res.Status)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "explicit-agent", headers.Get("User-Agent"))
	})
}

func TestRunDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		_, _ = gw.Write([]byte("compressed payload"))
		_ = gw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f, cs := newTestFetcher(t, nil)
	res := f.Run(context.Background(), newTask("gz", srv.URL, types.RequestSpec{NoProxy: true}), nil)
	require.Equal(t, types.TaskStatusDone, res.Status)

	data, err := cs.Get(context.Background(), "gz")
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", string(data))
}

func TestRunThroughProxy(t *testing.T) {
	var proxied atomic.Int32
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		fmt.Fprintf(w, "via proxy: %s", r.URL.Host)
	}))
	defer proxySrv.Close()
	addr := strings.TrimPrefix(proxySrv.URL, "http://")

	f, cs := newTestFetcher(t, nil)
	proxies := []*types.Proxy{
		{ProxyServer: "203.0.113.1:8443", HTTPS: true, StatusCheck: types.CheckOK},
		{ProxyServer: addr, HTTPS: false, StatusCheck: types.CheckOK},
	}

	res := f.Run(context.Background(), newTask("proxied", "http://target.example/page", types.RequestSpec{}), proxies)
	require.Equal(t, types.TaskStatusDone, res.Status)
	assert.Equal(t, addr, res.Proxy)
	assert.Equal(t, int32(1), proxied.Load())

	data, err := cs.Get(context.Background(), "proxied")
	require.NoError(t, err)
	assert.Equal(t, "via proxy: target.example", string(data))
}

func TestSelectProxyMatchesScheme(t *testing.T) {
	proxies := []*types.Proxy{
		{ProxyServer: "1.1.1.1:80", HTTPS: false},
		{ProxyServer: "2.2.2.2:80", HTTPS: true},
		{ProxyServer: "3.3.3.3:80", HTTPS: false},
		{ProxyServer: "4.4.4.4:80", HTTPS: true},
		{ProxyServer: "5.5.5.5:80", HTTPS: true},
	}
	rnd := NewRand(42)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		p := selectProxy(proxies, "https://example.com", false, 0, rnd)
		require.NotNil(t, p)
		assert.True(t, p.HTTPS)
		seen[p.ProxyServer] = true

		p = selectProxy(proxies, "http://example.com", false, 0, rnd)
		require.NotNil(t, p)
		assert.False(t, p.HTTPS)
	}
	assert.Len(t, seen, 3)

	// premium 只在最快的前 N 个中选择
	for i := 0; i < 50; i++ {
		p := selectProxy(proxies, "HTTPS://example.com", true, 1, rnd)
		require.NotNil(t, p)
		assert.Equal(t, "2.2.2.2:80", p.ProxyServer)
	}

	assert.Nil(t, selectProxy(proxies[:1], "https://example.com", false, 0, rnd))
	assert.Nil(t, selectProxy(nil, "http://example.com", false, 0, rnd))
}
