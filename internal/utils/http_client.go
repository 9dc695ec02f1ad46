package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient 创建带连接池的HTTP客户端，timeout为0表示不限制整体时长
// （长连接的流式请求由调用方通过context控制生命周期）
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: false,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
