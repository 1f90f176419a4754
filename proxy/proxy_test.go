package proxy_test

import (
	"net/http"
	"os"
	"testing"

	"github.com/firasghr/ChallengeGate/proxy"
)

func writeProxyFile(t *testing.T, lines string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "proxies*.txt")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(lines)
	f.Close()
	return f.Name()
}

func TestLoadProxies_Count(t *testing.T) {
	path := writeProxyFile(t, "http://proxy1:8080\nproxy2:8080\n# comment\n\nsocks5://proxy3:1080\n")
	pm := &proxy.ProxyManager{}
	if err := pm.LoadProxies(path); err != nil {
		t.Fatalf("LoadProxies error: %v", err)
	}
	if pm.Count() != 3 {
		t.Errorf("expected 3 proxies, got %d", pm.Count())
	}
}

func TestNext_Rotation(t *testing.T) {
	path := writeProxyFile(t, "a:1\nb:2\nc:3\n")
	pm := &proxy.ProxyManager{}
	if err := pm.LoadProxies(path); err != nil {
		t.Fatal(err)
	}

	want := []string{"http://a:1", "http://b:2", "http://c:3", "http://a:1"}
	for i, w := range want {
		if got := pm.Next().String(); got != w {
			t.Errorf("index %d: got %q, want %q", i, got, w)
		}
	}
}

func TestNext_EmptyMeansDirect(t *testing.T) {
	pm := &proxy.ProxyManager{}
	if got := pm.Next(); got != nil {
		t.Errorf("expected nil for empty proxy list, got %v", got)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	u, err := pm.Proxy(req)
	if err != nil || u != nil {
		t.Errorf("Proxy: got (%v, %v), want (nil, nil)", u, err)
	}
}

func TestLoadProxies_BadScheme(t *testing.T) {
	pm := &proxy.ProxyManager{}
	if err := pm.LoadProxies(writeProxyFile(t, "ftp://proxy:21\n")); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestLoadProxies_MissingFile(t *testing.T) {
	pm := &proxy.ProxyManager{}
	if err := pm.LoadProxies("/nonexistent.txt"); err == nil {
		t.Error("expected error for missing file")
	}
}
