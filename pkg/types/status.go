package types

// CheckStatus 抓取请求和代理检测共用的结果分类
type CheckStatus int

const (
	CheckOK              CheckStatus = 0   // 成功
	CheckHTTPError       CheckStatus = -1  // 非成功状态码
	CheckConnError       CheckStatus = -2  // 连接失败
	CheckTimeoutError    CheckStatus = -3  // 超时
	CheckGeneralError    CheckStatus = -4  // 未归类的传输错误
	CheckProxyError      CheckStatus = -5  // 代理不可用
	CheckProxyInvalidURL CheckStatus = -6  // 代理地址非法
	CheckSSLError        CheckStatus = -7  // TLS 握手或证书错误
	CheckUnknown         CheckStatus = -99 // 从未检测
)

var checkStatusNames = map[CheckStatus]string{
	CheckOK:              "OK",
	CheckHTTPError:       "HTTP_ERROR",
	CheckConnError:       "CONN_ERROR",
	CheckTimeoutError:    "TIMEOUT_ERROR",
	CheckGeneralError:    "GENERAL_ERROR",
	CheckProxyError:      "PROXY_ERROR",
	CheckProxyInvalidURL: "PROXY_INVALID_URL",
	CheckSSLError:        "SSL_ERROR",
	CheckUnknown:         "UNKNOWN",
}

func (s CheckStatus) String() string {
	if name, ok := checkStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Pointer 返回 *CheckStatus
func (s CheckStatus) Pointer() *CheckStatus {
	return &s
}
