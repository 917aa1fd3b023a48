package fetcher

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// defaultUserAgents 资源文件不可用时的内置列表
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

// UserAgentPool 只读的 User-Agent 列表
type UserAgentPool struct {
	agents []string
}

// NewUserAgentPool 使用给定列表，为空时使用内置列表
func NewUserAgentPool(agents []string) *UserAgentPool {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &UserAgentPool{agents: agents}
}

// LoadUserAgents 读取 CSV 文件，每行第一列是 User-Agent
func LoadUserAgents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening user agent file: %w", err)
	}
	defer f.Close()

	var agents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		first, _, _ := strings.Cut(line, ",")
		if first = strings.TrimSpace(first); first != "" {
			agents = append(agents, first)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading user agent file: %w", err)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("user agent file %s is empty", path)
	}
	return agents, nil
}

// LoadUserAgentPool 加载失败时记录告警并退回内置列表
func LoadUserAgentPool(path string, logger zerolog.Logger) *UserAgentPool {
	if path == "" {
		logger.Warn().Int("count", len(defaultUserAgents)).Msg("No user agent file configured, using built-in list")
		return NewUserAgentPool(nil)
	}
	agents, err := LoadUserAgents(path)
	if err != nil {
		logger.Warn().Err(err).Int("count", len(defaultUserAgents)).Msg("Failed to load user agents, using built-in list")
		return NewUserAgentPool(nil)
	}
	logger.Info().Str("file", path).Int("count", len(agents)).Msg("User agents loaded")
	return NewUserAgentPool(agents)
}

// Pick 均匀随机选择一个
func (p *UserAgentPool) Pick(rnd Rand) string {
	return p.agents[rnd.Intn(len(p.agents))]
}

// Len 列表长度
func (p *UserAgentPool) Len() int {
	return len(p.agents)
}
