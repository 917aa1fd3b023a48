package proxypool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const sourceUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Source 远程代理列表来源，返回 ParseLine 可识别的行
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// TextSource 纯文本代理列表，每行一个条目
type TextSource struct {
	url     string
	timeout time.Duration
}

// NewTextSource 创建文本列表来源
func NewTextSource(url string, timeout time.Duration) *TextSource {
	return &TextSource{url: url, timeout: timeout}
}

// Name 返回来源名称
func (s *TextSource) Name() string {
	return s.url
}

// Fetch 下载列表并保留可解析的行
func (s *TextSource) Fetch(ctx context.Context) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent(sourceUserAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)

	var (
		lines    []string
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		scanner := bufio.NewScanner(bytes.NewReader(r.Body))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if _, ok := ParseLine(line); ok {
				lines = append(lines, line)
			}
		}
		fetchErr = scanner.Err()
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("fetching %s (status %d): %w", s.url, r.StatusCode, err)
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("visiting %s: %w", s.url, err)
	}
	c.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no proxy entries found at %s", s.url)
	}
	return lines, nil
}

// TableSource HTML 表格形式的代理列表，默认第一列 IP、第二列端口
type TableSource struct {
	url    string
	client *http.Client
	// 列下标，小于 0 表示不存在
	ipCol      int
	portCol    int
	countryCol int
	httpsCol   int
}

// TableSourceConfig 表格来源配置
type TableSourceConfig struct {
	URL        string `yaml:"url"`
	IPCol      int    `yaml:"ip_col"`
	PortCol    int    `yaml:"port_col"`
	CountryCol int    `yaml:"country_col"`
	HTTPSCol   int    `yaml:"https_col"`
}

// NewTableSource 创建表格来源
func NewTableSource(cfg TableSourceConfig, timeout time.Duration) *TableSource {
	return &TableSource{
		url:        cfg.URL,
		client:     &http.Client{Timeout: timeout},
		ipCol:      cfg.IPCol,
		portCol:    cfg.PortCol,
		countryCol: cfg.CountryCol,
		httpsCol:   cfg.HTTPSCol,
	}
}

// Name 返回来源名称
func (s *TableSource) Name() string {
	return s.url
}

// Fetch 抓取页面并把表格行转换为列表行
func (s *TableSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", sourceUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", s.url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	lines := s.parse(doc)
	if len(lines) == 0 {
		return nil, fmt.Errorf("no proxy entries found at %s", s.url)
	}
	return lines, nil
}

func (s *TableSource) parse(doc *goquery.Document) []string {
	var lines []string
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		cell := func(i int) string {
			if i < 0 || i >= cells.Length() {
				return ""
			}
			return strings.TrimSpace(cells.Eq(i).Text())
		}

		ip, port := cell(s.ipCol), cell(s.portCol)
		if ip == "" || port == "" {
			return
		}
		https := strings.EqualFold(cell(s.httpsCol), "yes") || strings.EqualFold(cell(s.httpsCol), "https")
		line := FormatLine(ip+":"+port, strings.ToUpper(cell(s.countryCol)), https)
		if _, ok := ParseLine(line); ok {
			lines = append(lines, line)
		}
	})
	return lines
}
