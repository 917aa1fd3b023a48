package proxypool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewManager(cfg, s, zerolog.Nop()), s
}

func writeList(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy-list.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	path := writeList(t,
		"Proxy list header",
		"1.2.3.4:8080 US-S + ",
		"5.6.7.8:3128 DE-H +",
		"9.9.9.9:8080 FR-H x",
		"300.1.1.1:8080 US-S +",
		"1.1.1.1:22 US-S +",
		"",
	)
	m, s := newTestManager(t, Config{ListFile: path})

	stats, err := m.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 3, stats.Skipped)

	p, err := s.GetProxy(ctx, "1.2.3.4:8080")
	require.NoError(t, err)
	assert.True(t, p.HTTPS)
	assert.Equal(t, "US", p.Country)
	assert.Equal(t, types.CheckUnknown, p.StatusCheck)
	assert.Nil(t, p.Latency)
	assert.Nil(t, p.LastCheck)

	_, err = s.GetProxy(ctx, "9.9.9.9:8080")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// 已存在的代理再次出现 "+" 时不做任何修改
	now := time.Now().UTC()
	latency := 0.42
	require.NoError(t, s.UpdateProxyHealth(ctx, []*types.ProxyHealth{{
		ProxyServer: "1.2.3.4:8080", Status: types.CheckOK, CheckedAt: now, Latency: &latency, AliveAt: &now,
	}}))
	stats, err = m.IngestReader(ctx, strings.NewReader("1.2.3.4:8080 GB-H +\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	p, err = s.GetProxy(ctx, "1.2.3.4:8080")
	require.NoError(t, err)
	assert.Equal(t, "US", p.Country)
	assert.True(t, p.HTTPS)
	assert.Equal(t, types.CheckOK, p.StatusCheck)
	require.NotNil(t, p.Latency)
	assert.InDelta(t, 0.42, *p.Latency, 1e-9)

	// "-" 删除已存在的代理，不存在时忽略
	stats, err = m.IngestReader(ctx, strings.NewReader("1.2.3.4:8080 US-S -\n7.7.7.7:8080 US-S -\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	_, err = s.GetProxy(ctx, "1.2.3.4:8080")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestIngestMalformedOnly(t *testing.T) {
	m, s := newTestManager(t, Config{})
	stats, err := m.IngestReader(context.Background(), strings.NewReader("garbage\n1.2.3.4:8080 US\n1.2.3:80 US-S +\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	total, _, err := s.CountProxies(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func proxyLines(n int, marker string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "10.0.%d.%d:8080 US-H-S %s\n", i/250, i%250, marker)
	}
	return b.String()
}

func TestConcurrentIngestSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(store.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "proxies.db")))
	require.NoError(t, err)
	defer s.Close()

	m := NewManager(Config{}, s, zerolog.Nop())
	// 另一个共享同一数据库的 Manager，模拟独立的 worker 进程
	other := NewManager(Config{}, s, zerolog.Nop())

	list := proxyLines(200, MarkerAdd) + "10.0.0.7:8080 US-H -\n" + "10.0.0.200:8080 US-H -\n"
	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		errs := make([]error, 3)
		for i, mgr := range []*Manager{m, m, other} {
			wg.Add(1)
			go func(i int, mgr *Manager) {
				defer wg.Done()
				_, errs[i] = mgr.IngestReader(ctx, strings.NewReader(list))
			}(i, mgr)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err, "round %d", round)
		}

		_, err = s.GetProxy(ctx, "10.0.0.199:8080")
		require.NoError(t, err)
	}

	// 串行导入时 "-" 行一定会执行
	stats, err := m.IngestReader(ctx, strings.NewReader(proxyLines(200, MarkerAdd)+"10.0.0.7:8080 US-H -\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	_, err = s.GetProxy(ctx, "10.0.0.7:8080")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	total, _, err := s.CountProxies(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(199), total)
}

func TestIngestMissingFile(t *testing.T) {
	m, _ := newTestManager(t, Config{ListFile: filepath.Join(t.TempDir(), "missing.txt")})
	_, err := m.Ingest(context.Background())
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list.txt":
			fmt.Fprintln(w, "Free proxy list")
			fmt.Fprintln(w, "11.22.33.44:8080 US-H-S +")
			fmt.Fprintln(w, "55.66.77.88:3128 NL-N +")
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		path := writeList(t, "1.1.1.1:8080 US-S +")
		m, s := newTestManager(t, Config{ListFile: path, RemoteURL: srv.URL + "/list.txt"})

		stats, err := m.RefreshAndIngest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Inserted)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "1.1.1.1:8080")

		p, err := s.GetProxy(context.Background(), "11.22.33.44:8080")
		require.NoError(t, err)
		assert.True(t, p.HTTPS)
	})

	t.Run("failure keeps local file", func(t *testing.T) {
		path := writeList(t, "1.1.1.1:8080 US-S +")
		m, _ := newTestManager(t, Config{ListFile: path, RemoteURL: srv.URL + "/broken"})

		assert.False(t, m.Refresh(context.Background()))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "1.1.1.1:8080")

		stats, err := m.RefreshAndIngest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Inserted)
	})

	t.Run("no sources", func(t *testing.T) {
		m, _ := newTestManager(t, Config{ListFile: writeList(t)})
		assert.False(t, m.Refresh(context.Background()))
	})
}

func TestTableSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table>
<thead><tr><th>IP</th><th>Port</th><th>Code</th><th>Https</th></tr></thead>
<tbody>
<tr><td>12.34.56.78</td><td>8080</td><td>us</td><td>yes</td></tr>
<tr><td>98.76.54.32</td><td>3128</td><td>DE</td><td>no</td></tr>
<tr><td>not-an-ip</td><td>80</td><td>FR</td><td>no</td></tr>
<tr><td></td><td></td><td></td><td></td></tr>
</tbody></table></body></html>`)
	}))
	defer srv.Close()

	src := NewTableSource(TableSourceConfig{URL: srv.URL, IPCol: 0, PortCol: 1, CountryCol: 2, HTTPSCol: 3}, 5*time.Second)
	lines, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 2)

	entry, ok := ParseLine(lines[0])
	require.True(t, ok)
	assert.Equal(t, "12.34.56.78:8080", entry.Address)
	assert.Equal(t, "US", entry.Country)
	assert.True(t, entry.HTTPS)

	entry, ok = ParseLine(lines[1])
	require.True(t, ok)
	assert.False(t, entry.HTTPS)
}

// closedAddr 返回一个没有监听的本地地址
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	// 充当 HTTP 代理，直接应答探测请求
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ip":"203.0.113.7","country":"US"}`)
	}))
	defer proxySrv.Close()
	goodAddr := strings.TrimPrefix(proxySrv.URL, "http://")
	badAddr := closedAddr(t)

	m, s := newTestManager(t, Config{Checker: CheckerConfig{
		Workers:        4,
		ConnectTimeout: 2 * time.Second,
		CheckTimeout:   5 * time.Second,
		TargetHTTP:     "http://probe.example/myip.json",
	}})

	prevLatency := 0.7
	prevAlive := time.Now().Add(-2 * time.Hour).UTC()
	require.NoError(t, s.InsertProxy(ctx, &types.Proxy{ProxyServer: goodAddr, StatusCheck: types.CheckUnknown}))
	require.NoError(t, s.InsertProxy(ctx, &types.Proxy{
		ProxyServer: badAddr,
		StatusCheck: types.CheckOK,
		Latency:     &prevLatency,
		LastAlive:   &prevAlive,
	}))

	require.NoError(t, m.Check(ctx))

	good, err := s.GetProxy(ctx, goodAddr)
	require.NoError(t, err)
	assert.Equal(t, types.CheckOK, good.StatusCheck)
	require.NotNil(t, good.Latency)
	assert.Greater(t, *good.Latency, 0.0)
	require.NotNil(t, good.HTTPCode)
	assert.Equal(t, http.StatusOK, *good.HTTPCode)
	assert.NotNil(t, good.LastAlive)
	assert.NotNil(t, good.LastCheck)
	assert.Contains(t, good.Response, "203.0.113.7")

	bad, err := s.GetProxy(ctx, badAddr)
	require.NoError(t, err)
	assert.Equal(t, types.CheckConnError, bad.StatusCheck)
	require.NotNil(t, bad.Latency)
	assert.InDelta(t, prevLatency, *bad.Latency, 1e-9)
	require.NotNil(t, bad.LastAlive)
	assert.WithinDuration(t, prevAlive, *bad.LastAlive, time.Second)
	assert.NotNil(t, bad.LastCheck)

	alive, err := m.AliveProxies(ctx)
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, goodAddr, alive[0].ProxyServer)

	ranked, err := m.RankedProxies(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	all, err := m.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCheckHTTPError(t *testing.T) {
	ctx := context.Background()
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer proxySrv.Close()
	addr := strings.TrimPrefix(proxySrv.URL, "http://")

	m, s := newTestManager(t, Config{Checker: CheckerConfig{TargetHTTP: "http://probe.example/"}})
	require.NoError(t, s.InsertProxy(ctx, &types.Proxy{ProxyServer: addr, StatusCheck: types.CheckUnknown}))
	require.NoError(t, m.Check(ctx))

	p, err := s.GetProxy(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.CheckHTTPError, p.StatusCheck)
	require.NotNil(t, p.HTTPCode)
	assert.Equal(t, http.StatusForbidden, *p.HTTPCode)
	assert.Nil(t, p.Latency)
	assert.Nil(t, p.LastAlive)
}

func TestCheckRejectsOverlap(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.checking.Store(true)
	assert.True(t, m.Checking())
	assert.True(t, errors.Is(m.Check(context.Background()), ErrCheckInProgress))

	m.checking.Store(false)
	assert.NoError(t, m.Check(context.Background()))
}

func TestSchedulerRunsAndStops(t *testing.T) {
	path := writeList(t, "1.2.3.4:8080 US-S +")
	m, s := newTestManager(t, Config{ListFile: path})

	sched := NewScheduler(m, SchedulerConfig{
		RefreshInterval: time.Hour,
		CheckInterval:   time.Hour,
		RefreshDelay:    10 * time.Millisecond,
		CheckDelay:      time.Hour,
	}, zerolog.Nop())
	sched.Start(context.Background())

	assert.Eventually(t, func() bool {
		total, _, err := s.CountProxies(context.Background())
		return err == nil && total == 1
	}, 2*time.Second, 10*time.Millisecond)

	sched.Stop()
}
