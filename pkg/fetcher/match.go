package fetcher

import (
	"strings"

	"scraper-backend/pkg/types"
)

// SameRequest 缓存命中条件：方法相同（忽略大小写）且参数结构相等，
// 请求头和 Cookie 不参与比较
func SameRequest(a, b *types.RequestSpec) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strings.EqualFold(a.Method, b.Method) && ParamsEqual(a.Params, b.Params)
}

// ParamsEqual 与键顺序无关的比较，nil 与空 map 视为相等
func ParamsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}
