// Package proxy provides thread-safe outbound proxy rotation for upstream
// calls.
package proxy

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
)

// ProxyManager holds a list of outbound proxies and hands them out in a
// round-robin fashion, one per upstream request.
//
// Thread-safety: a sync.Mutex serialises all access to the list and index,
// so Next may be called from any number of request goroutines.
type ProxyManager struct {
	proxies []*url.URL
	index   int
	mutex   sync.Mutex
}

// LoadProxies reads a newline-delimited list of proxy addresses from filename
// and stores them in pm.  Lines that are blank or begin with '#' are ignored.
// Bare "host:port" entries are treated as http:// proxies; socks5:// and
// https:// URLs are kept as written.
//
// LoadProxies replaces any previously loaded proxies.
func (pm *ProxyManager) LoadProxies(filename string) error {
	f, err := os.Open(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return fmt.Errorf("proxy: open %q: %w", filename, err)
	}
	defer f.Close()

	var loaded []*url.URL
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := ParseProxy(line)
		if err != nil {
			return fmt.Errorf("proxy: %s:%d: %w", filename, lineNo, err)
		}
		loaded = append(loaded, u)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: read %q: %w", filename, err)
	}

	pm.mutex.Lock()
	pm.proxies = loaded
	pm.index = 0
	pm.mutex.Unlock()
	return nil
}

// ParseProxy parses one proxy entry.
func ParseProxy(s string) (*url.URL, error) {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", s)
	}
	return u, nil
}

// Next returns the next proxy in the rotation and advances the internal
// index.  It returns nil when no proxies are loaded, meaning "connect
// directly".
func (pm *ProxyManager) Next() *url.URL {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if len(pm.proxies) == 0 {
		return nil
	}
	p := pm.proxies[pm.index]
	pm.index = (pm.index + 1) % len(pm.proxies)
	return p
}

// Proxy has the signature of http.Transport.Proxy so a ProxyManager can be
// plugged straight into a transport.
func (pm *ProxyManager) Proxy(*http.Request) (*url.URL, error) {
	return pm.Next(), nil
}

// Count returns the number of loaded proxies.
func (pm *ProxyManager) Count() int {
	pm.mutex.Lock()
	n := len(pm.proxies)
	pm.mutex.Unlock()
	return n
}
