package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"scraper-backend/pkg/content"
	"scraper-backend/pkg/httpclient"
	"scraper-backend/pkg/store"
	"scraper-backend/pkg/types"
)

const (
	DefaultConnectTimeout  = 15 * time.Second
	DefaultPremiumPoolSize = 10
	DefaultMaxBodySize     = 64 << 20
)

// ErrBodyTooLarge 响应体超过上限
var ErrBodyTooLarge = errors.New("response body too large")

// TaskLookup 缓存探测需要的任务查询
type TaskLookup interface {
	FindLatestDone(ctx context.Context, url string, excludeID string) (*types.Task, error)
}

// Config 抓取配置
type Config struct {
	ConnectTimeout  time.Duration
	PremiumPoolSize int
	MaxBodySize     int64
}

// Fetcher 执行单个抓取任务：缓存探测、构造请求、选择代理、有限次重试
type Fetcher struct {
	cfg     Config
	tasks   TaskLookup
	content content.Store
	agents  *UserAgentPool
	rnd     Rand
	logger  zerolog.Logger
}

// New 创建 Fetcher，rnd 为 nil 时使用时间种子
func New(cfg Config, tasks TaskLookup, contentStore content.Store, agents *UserAgentPool, rnd Rand, logger zerolog.Logger) *Fetcher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PremiumPoolSize <= 0 {
		cfg.PremiumPoolSize = DefaultPremiumPoolSize
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if agents == nil {
		agents = NewUserAgentPool(nil)
	}
	if rnd == nil {
		rnd = NewRand(0)
	}
	return &Fetcher{
		cfg:     cfg,
		tasks:   tasks,
		content: contentStore,
		agents:  agents,
		rnd:     rnd,
		logger:  logger,
	}
}

// Run 执行任务，传输层错误不会向外抛出，只体现在结果里
func (f *Fetcher) Run(ctx context.Context, task *types.Task, proxies []*types.Proxy) *types.TaskResult {
	spec := task.Spec
	spec.Normalize()
	log := f.logger.With().Str("task_id", task.ID).Str("url", task.URL).Logger()

	if spec.UseCache {
		if res := f.probeCache(ctx, task, &spec, log); res != nil {
			return res
		}
	}

	retries := spec.Retries
	if retries < 0 {
		retries = 0
	}
	if retries > types.MaxRetries {
		retries = types.MaxRetries
	}

	result := &types.TaskResult{}
	for {
		result.Attempts++

		proxy := ""
		if !spec.NoProxy {
			if p := selectProxy(proxies, task.URL, spec.PremiumProxy, f.cfg.PremiumPoolSize, f.rnd); p != nil {
				proxy = p.ProxyServer
			}
		}
		result.Proxy = proxy

		elapsed, status, err := f.attempt(ctx, task, &spec, proxy)
		if status == types.CheckOK {
			result.Status = types.TaskStatusDone
			result.DownloadTime = elapsed.Seconds()
			result.ErrorReason = nil
			log.Info().
				Str("proxy", proxy).
				Int("attempts", result.Attempts).
				Float64("download_time", result.DownloadTime).
				Msg("Task done")
			return result
		}

		result.ErrorReason = status.Pointer()
		log.Warn().
			Err(err).
			Str("proxy", proxy).
			Str("status", status.String()).
			Int("attempt", result.Attempts).
			Int("retries_left", retries).
			Msg("Fetch attempt failed")

		if retries <= 0 || ctx.Err() != nil {
			break
		}
		retries--
	}

	result.Status = types.TaskStatusError
	log.Error().Str("status", result.ErrorReason.String()).Int("attempts", result.Attempts).Msg("Task failed")
	return result
}

// probeCache 同一 URL 最近一次成功的任务请求相同时，直接复制其内容
func (f *Fetcher) probeCache(ctx context.Context, task *types.Task, spec *types.RequestSpec, log zerolog.Logger) *types.TaskResult {
	if f.tasks == nil {
		return nil
	}

	start := time.Now()
	prev, err := f.tasks.FindLatestDone(ctx, task.URL, task.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Msg("Cache lookup failed")
		}
		return nil
	}
	if !SameRequest(&prev.Spec, spec) {
		log.Debug().Str("cached_task", prev.ID).Msg("Cached request differs")
		return nil
	}
	if err := f.content.Copy(ctx, prev.ID, task.ID); err != nil {
		log.Warn().Err(err).Str("cached_task", prev.ID).Msg("Cache copy failed, fetching")
		return nil
	}

	log.Info().Str("cached_task", prev.ID).Msg("Served from cache")
	return &types.TaskResult{
		Status:       types.TaskStatusDone,
		DownloadTime: time.Since(start).Seconds(),
		CacheHit:     true,
	}
}

// attempt 发起一次请求，成功时写入内容存储
func (f *Fetcher) attempt(ctx context.Context, task *types.Task, spec *types.RequestSpec, proxy string) (time.Duration, types.CheckStatus, error) {
	req, err := f.buildRequest(ctx, task.URL, spec)
	if err != nil {
		return 0, types.CheckGeneralError, err
	}

	client, err := httpclient.NewClient(proxy, f.cfg.ConnectTimeout, spec.TimeoutDuration())
	if err != nil {
		return 0, httpclient.Classify(err), err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, httpclient.Classify(err), err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		err := &httpclient.StatusError{Code: resp.StatusCode}
		return 0, httpclient.Classify(err), err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize+1))
	if err != nil {
		return 0, httpclient.Classify(err), err
	}
	if int64(len(raw)) > f.cfg.MaxBodySize {
		return 0, types.CheckGeneralError, ErrBodyTooLarge
	}
	elapsed := time.Since(start)

	body, err := httpclient.DecodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return 0, types.CheckGeneralError, err
	}
	if err := f.content.Put(ctx, task.ID, body); err != nil {
		return 0, types.CheckGeneralError, fmt.Errorf("storing content: %w", err)
	}
	return elapsed, types.CheckOK, nil
}

// buildRequest 请求头依次为 Accept-Encoding、User-Agent、调用方请求头，后者优先
func (f *Fetcher) buildRequest(ctx context.Context, rawURL string, spec *types.RequestSpec) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	var body io.Reader
	form := url.Values{}
	for k, v := range spec.Params {
		form.Add(k, v)
	}
	switch spec.Method {
	case types.MethodGet:
		if len(form) > 0 {
			q := u.Query()
			for k, vs := range form {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		}
	case types.MethodPost:
		body = strings.NewReader(form.Encode())
	default:
		return nil, fmt.Errorf("unsupported method %q", spec.Method)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept-Encoding", httpclient.AcceptEncoding)
	if ua := strings.TrimSpace(spec.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", f.agents.Pick(f.rnd))
	}
	if spec.Method == types.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	names := make([]string, 0, len(spec.Cookies))
	for name := range spec.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&http.Cookie{Name: name, Value: spec.Cookies[name]})
	}

	return req, nil
}

// selectProxy 在协议匹配的代理中均匀随机选择，premium 时只在最快的 premiumSize 个中选择
func selectProxy(proxies []*types.Proxy, rawURL string, premium bool, premiumSize int, rnd Rand) *types.Proxy {
	isHTTPS := false
	if u, err := url.Parse(rawURL); err == nil {
		isHTTPS = strings.EqualFold(u.Scheme, "https")
	}

	candidates := make([]*types.Proxy, 0, len(proxies))
	for _, p := range proxies {
		if p.HTTPS == isHTTPS {
			candidates = append(candidates, p)
		}
	}
	if premium && premiumSize > 0 && len(candidates) > premiumSize {
		candidates = candidates[:premiumSize]
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rnd.Intn(len(candidates))]
}
