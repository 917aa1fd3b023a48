package types

import "time"

// Proxy 代理服务器记录
type Proxy struct {
	ProxyServer string      `json:"proxy_server" gorm:"primaryKey;size:64"` // ip:port
	Country     string      `json:"country" gorm:"size:16"`
	HTTPS       bool        `json:"https" gorm:"column:https"`
	StatusCheck CheckStatus `json:"status_check" gorm:"column:status_check;index"`
	HTTPCode    *int        `json:"http_code,omitempty" gorm:"column:http_code"`
	Latency     *float64    `json:"latency,omitempty" gorm:"column:latency;index"` // 秒
	LastCheck   *time.Time  `json:"last_check,omitempty" gorm:"column:last_check"`
	LastAlive   *time.Time  `json:"last_alive,omitempty" gorm:"column:last_alive"`
	Response    string      `json:"response,omitempty" gorm:"column:response"`
}

// TableName 表名
func (Proxy) TableName() string {
	return "proxies"
}

// Alive 最近一次检测是否成功
func (p *Proxy) Alive() bool {
	return p.StatusCheck == CheckOK
}

// URL 代理地址，HTTP 和 HTTPS 流量都走 http:// 形式的代理
func (p *Proxy) URL() string {
	return "http://" + p.ProxyServer
}

// LatencyValue 未检测时返回 0
func (p *Proxy) LatencyValue() float64 {
	if p.Latency == nil {
		return 0
	}
	return *p.Latency
}

// ProxyHealth 一次健康检测的结果，nil 字段表示保持原值
type ProxyHealth struct {
	ProxyServer string
	Status      CheckStatus
	CheckedAt   time.Time
	Latency     *float64
	HTTPCode    *int
	Response    *string
	AliveAt     *time.Time
}

// Apply 将检测结果合并到代理记录
func (h *ProxyHealth) Apply(p *Proxy) {
	p.StatusCheck = h.Status
	checked := h.CheckedAt
	p.LastCheck = &checked
	if h.Latency != nil {
		v := *h.Latency
		p.Latency = &v
	}
	if h.HTTPCode != nil {
		v := *h.HTTPCode
		p.HTTPCode = &v
	}
	if h.Response != nil {
		p.Response = *h.Response
	}
	if h.AliveAt != nil {
		v := *h.AliveAt
		p.LastAlive = &v
	}
}
