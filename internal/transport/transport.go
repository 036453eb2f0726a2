// Package transport 构建转发与健康检查共用的出站HTTP传输层，支持代理配置
package transport

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"failover-dispatcher/config"
)

// CreateTransport creates an *http.Transport honoring the proxy
// configuration. With the proxy disabled it returns a transport with sane
// connection pooling defaults.
func CreateTransport(cfg *config.Config) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if !cfg.Proxy.Enabled {
		return transport, nil
	}

	switch cfg.Proxy.Type {
	case "http", "https":
		proxyURL, err := resolveProxyURL(cfg)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case "socks5":
		addr, auth, err := resolveSocks5(cfg)
		if err != nil {
			return nil, err
		}
		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		transport.Dial = dialer.Dial

	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", cfg.Proxy.Type)
	}

	return transport, nil
}

// GetProxyInfo returns a human readable description of the proxy
// configuration for startup logging.
func GetProxyInfo(cfg *config.Config) string {
	if !cfg.Proxy.Enabled {
		return "代理未启用"
	}

	switch cfg.Proxy.Type {
	case "http", "https":
		proxyURL, err := resolveProxyURL(cfg)
		if err != nil {
			return fmt.Sprintf("代理配置错误: %v", err)
		}
		// 隐藏凭据
		display := *proxyURL
		display.User = nil
		return fmt.Sprintf("使用 %s 代理: %s", cfg.Proxy.Type, display.String())

	case "socks5":
		addr, _, err := resolveSocks5(cfg)
		if err != nil {
			return fmt.Sprintf("代理配置错误: %v", err)
		}
		return fmt.Sprintf("使用 socks5 代理: %s", addr)

	default:
		return fmt.Sprintf("不支持的代理类型: %s", cfg.Proxy.Type)
	}
}

// resolveProxyURL resolves the http/https proxy URL from either the full
// URL form or host:port plus optional credentials.
func resolveProxyURL(cfg *config.Config) (*url.URL, error) {
	if cfg.Proxy.URL != "" {
		proxyURL, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		return proxyURL, nil
	}

	proxyURL := &url.URL{
		Scheme: cfg.Proxy.Type,
		Host:   net.JoinHostPort(cfg.Proxy.Host, fmt.Sprintf("%d", cfg.Proxy.Port)),
	}
	if cfg.Proxy.Username != "" {
		if cfg.Proxy.Password != "" {
			proxyURL.User = url.UserPassword(cfg.Proxy.Username, cfg.Proxy.Password)
		} else {
			proxyURL.User = url.User(cfg.Proxy.Username)
		}
	}
	return proxyURL, nil
}

// resolveSocks5 resolves the socks5 address and optional auth.
func resolveSocks5(cfg *config.Config) (string, *proxy.Auth, error) {
	addr := ""
	if cfg.Proxy.URL != "" {
		u, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			return "", nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		addr = u.Host
	} else {
		addr = net.JoinHostPort(cfg.Proxy.Host, fmt.Sprintf("%d", cfg.Proxy.Port))
	}

	var auth *proxy.Auth
	if cfg.Proxy.Username != "" {
		auth = &proxy.Auth{
			User:     cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}
	return addr, auth, nil
}
