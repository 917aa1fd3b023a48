package proxypool

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	MarkerAdd    = "+"
	MarkerRemove = "-"

	minPort = 80
	maxPort = 65535
)

var ipv4Pattern = regexp.MustCompile(`^((25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\.){3}(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])$`)

// Entry 代理列表中的一行
type Entry struct {
	Address string
	Country string
	HTTPS   bool
	Marker  string
}

// ParseLine 解析 "ADDRESS FLAGS MARKER ..." 格式的行，格式不合法时返回 false
//
// FLAGS 以连字符分隔，第一段是国家代码，至少两段且最后一段含 S 时视为支持 HTTPS，
// 例如 "US-H-S"、"DE-A-S!"。
func ParseLine(line string) (Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Entry{}, false
	}

	address := fields[0]
	ip, portStr, ok := strings.Cut(address, ":")
	if !ok {
		return Entry{}, false
	}
	if portStr == "" || strings.TrimLeft(portStr, "0123456789") != "" {
		return Entry{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < minPort || port > maxPort {
		return Entry{}, false
	}
	if !ipv4Pattern.MatchString(ip) {
		return Entry{}, false
	}

	flags := strings.Split(fields[1], "-")
	return Entry{
		Address: address,
		Country: flags[0],
		HTTPS:   len(flags) >= 2 && strings.Contains(flags[len(flags)-1], "S"),
		Marker:  fields[2],
	}, true
}

// FormatLine 生成可被 ParseLine 解析的行
func FormatLine(address, country string, https bool) string {
	flags := strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, country)
	if flags == "" {
		flags = "ZZ"
	}
	flags += "-H"
	if https {
		flags += "-S"
	}
	return address + " " + flags + " " + MarkerAdd
}
