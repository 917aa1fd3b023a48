package proxypool

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scraper-backend/pkg/httpclient"
	"scraper-backend/pkg/types"
)

const (
	DefaultCheckWorkers   = 20
	DefaultConnectTimeout = 15 * time.Second
	DefaultCheckTimeout   = 60 * time.Second
	DefaultTargetHTTP     = "http://lumtest.com/myip.json"
	DefaultTargetHTTPS    = "https://lumtest.com/myip.json"

	maxResponseBytes = 4 << 10
)

// CheckerConfig 健康检测配置
type CheckerConfig struct {
	Workers        int
	ConnectTimeout time.Duration
	CheckTimeout   time.Duration
	TargetHTTP     string
	TargetHTTPS    string
}

func (c *CheckerConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultCheckWorkers
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.TargetHTTP == "" {
		c.TargetHTTP = DefaultTargetHTTP
	}
	if c.TargetHTTPS == "" {
		c.TargetHTTPS = DefaultTargetHTTPS
	}
}

// Checker 通过代理请求探测地址来判断代理是否可用
type Checker struct {
	cfg    CheckerConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewChecker 创建检测器
func NewChecker(cfg CheckerConfig, logger zerolog.Logger) *Checker {
	cfg.setDefaults()
	return &Checker{
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check 并发检测全部代理，结果顺序与输入一致
func (c *Checker) Check(ctx context.Context, proxies []*types.Proxy) []*types.ProxyHealth {
	results := make([]*types.ProxyHealth, len(proxies))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, p := range proxies {
		g.Go(func() error {
			results[i] = c.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// probe 检测单个代理，失败时不修改延迟和最后存活时间
func (c *Checker) probe(ctx context.Context, p *types.Proxy) *types.ProxyHealth {
	health := &types.ProxyHealth{ProxyServer: p.ProxyServer}

	target := c.cfg.TargetHTTP
	if p.HTTPS {
		target = c.cfg.TargetHTTPS
	}

	client, err := httpclient.NewClient(p.ProxyServer, c.cfg.ConnectTimeout, c.cfg.CheckTimeout)
	if err != nil {
		health.Status = httpclient.Classify(err)
		health.CheckedAt = c.now()
		return health
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		health.Status = types.CheckGeneralError
		health.CheckedAt = c.now()
		return health
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		health.Status = classifyProbe(err)
		health.CheckedAt = c.now()
		c.logger.Debug().Err(err).Str("proxy", p.ProxyServer).Str("status", health.Status.String()).Msg("Proxy check failed")
		return health
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := time.Since(start).Seconds()
	health.CheckedAt = c.now()

	code := resp.StatusCode
	health.HTTPCode = &code
	if status := httpclient.StatusFor(code); status != types.CheckOK {
		health.Status = status
		return health
	}
	if err != nil {
		health.Status = httpclient.Classify(err)
		return health
	}

	text := string(body)
	health.Status = types.CheckOK
	health.Latency = &latency
	health.Response = &text
	if code == http.StatusOK {
		alive := health.CheckedAt
		health.AliveAt = &alive
	}
	return health
}

// classifyProbe 被检测的就是代理本身，连不上代理按连接失败处理
func classifyProbe(err error) types.CheckStatus {
	status := httpclient.Classify(err)
	if status == types.CheckProxyError {
		return types.CheckConnError
	}
	return status
}
