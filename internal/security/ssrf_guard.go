// Package security はフィード取得時のセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedDestination はフィードURLの宛先が取得対象として許可されていないことを示す。
var ErrBlockedDestination = errors.New("blocked destination")

// feedSchemes はフィード取得で許可されるURLスキーム。
var feedSchemes = []string{"http", "https"}

// privatePrefixes はIPリテラルのフィードURLで拒否するアドレス範囲。
// ホスト名のURLはDNS解決後にsafeurlのDialerが同じ範囲を拒否する。
var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIP 169.254.169.254
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// SSRFGuard はRSSフィードの取得先を公開ネットワークに限定する。
type SSRFGuard struct{}

// NewSSRFGuard はSSRFGuardを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{}
}

// NewSafeClient は80/443番ポートの公開アドレスにのみ接続するHTTPクライアントを返す。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(feedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// ValidateURL はフィード登録前にURLを静的に検証する。DNS解決は行わない。
// 宛先が拒否された場合はErrBlockedDestinationをラップしたエラーを返す。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !isFeedScheme(u.Scheme) {
		return fmt.Errorf("%w: scheme %q (allowed: %v)", ErrBlockedDestination, u.Scheme, feedSchemes)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	return checkHost(host)
}

func isFeedScheme(scheme string) bool {
	for _, s := range feedSchemes {
		if strings.EqualFold(scheme, s) {
			return true
		}
	}
	return false
}

// checkHost はIPリテラルとlocalhostを拒否する。
func checkHost(host string) error {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		if strings.EqualFold(host, "localhost") {
			return fmt.Errorf("%w: host %s", ErrBlockedDestination, host)
		}
		return nil
	}
	addr = addr.Unmap().WithZone("")
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("%w: address %s", ErrBlockedDestination, addr)
		}
	}
	return nil
}
