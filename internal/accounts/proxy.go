package accounts

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var supportedSchemes = map[string]bool{"http": true, "https": true, "socks5": true}

// Binding is an outbound proxy endpoint with optional credentials.
type Binding struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
}

// ParseProxy accepts host:port or user:pass@host:port, optionally prefixed
// with an http://, https:// or socks5:// scheme. The scheme defaults to http.
func ParseProxy(line string) (Binding, error) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return Binding{}, fmt.Errorf("empty proxy")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Binding{}, fmt.Errorf("invalid proxy %q", redactLine(line))
	}
	scheme := strings.ToLower(u.Scheme)
	if !supportedSchemes[scheme] {
		return Binding{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Binding{}, fmt.Errorf("proxy %q: %w", redactLine(line), err)
	}
	if host == "" {
		return Binding{}, fmt.Errorf("proxy %q: missing host", redactLine(line))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Binding{}, fmt.Errorf("proxy %q: invalid port %q", redactLine(line), portStr)
	}

	b := Binding{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		b.Username = u.User.Username()
		b.Password, _ = u.User.Password()
	}
	return b, nil
}

// HasAuth reports whether the binding carries a credential.
func (b Binding) HasAuth() bool {
	return b.Username != "" || b.Password != ""
}

// Address returns host:port.
func (b Binding) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// URL returns the proxy URL including credentials.
func (b Binding) URL() *url.URL {
	u := &url.URL{Scheme: b.Scheme, Host: b.Address()}
	if b.HasAuth() {
		u.User = url.UserPassword(b.Username, b.Password)
	}
	return u
}

// AuthHeader returns the Proxy-Authorization value, or "" without a credential.
func (b Binding) AuthHeader() string {
	if !b.HasAuth() {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(b.Username+":"+b.Password))
}

// String redacts the password.
func (b Binding) String() string {
	u := &url.URL{Scheme: b.Scheme, Host: b.Address()}
	if b.HasAuth() {
		u.User = url.UserPassword(b.Username, "xxxxx")
	}
	return u.String()
}

func redactLine(line string) string {
	if i := strings.LastIndex(line, "@"); i >= 0 {
		return "***@" + line[i+1:]
	}
	return line
}
