package client

import (
	"net/http"
	"strings"
)

// headerEntry stores a single header key/value pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a companion to http.Header that preserves the exact
// capitalisation and insertion order of HTTP headers.
//
// Servers that profile client fingerprints inspect both the casing
// ("sec-ch-ua-platform" vs "Sec-Ch-Ua-Platform") and the order of headers,
// which a plain map cannot express.  OrderedHeader is not safe for
// concurrent use; build one per request.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value, preserving the casing of key.
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively)
// and drops later duplicates.  Without a match Set behaves like Add.
func (h *OrderedHeader) Set(key, value string) {
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.key, key) {
			out = append(out, e)
			continue
		}
		if !replaced {
			out = append(out, headerEntry{key: key, value: value})
			replaced = true
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Get returns the value of the first entry matching key case-insensitively.
func (h *OrderedHeader) Get(key string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.key, key) {
			return e.value
		}
	}
	return ""
}

// Len returns the number of entries, duplicates included.
func (h *OrderedHeader) Len() int { return len(h.entries) }

// ApplyTo sets every entry on dst, replacing existing values with the same
// name.  Keys are written with their original casing.
func (h *OrderedHeader) ApplyTo(dst http.Header) {
	for _, e := range h.entries {
		deleteFold(dst, e.key)
	}
	for _, e := range h.entries {
		dst[e.key] = append(dst[e.key], e.value)
	}
}

// FillMissing adds the entries whose name dst does not carry yet.
func (h *OrderedHeader) FillMissing(dst http.Header) {
	present := make(map[string]bool, len(dst))
	for k := range dst {
		present[strings.ToLower(k)] = true
	}
	for _, e := range h.entries {
		if present[strings.ToLower(e.key)] {
			continue
		}
		dst[e.key] = append(dst[e.key], e.value)
	}
}

func deleteFold(h http.Header, key string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
}

// BrowserHeaders returns the identity headers sent on the challenge fetch and
// the quota call: the given User-Agent and Accept plus an en-US language
// preference.
func BrowserHeaders(userAgent, accept string) *OrderedHeader {
	h := &OrderedHeader{}
	h.Add("User-Agent", userAgent)
	h.Add("Accept", accept)
	h.Add("Accept-Language", AcceptLanguage)
	return h
}

// Accept values for the two kinds of upstream call.
const (
	AcceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptJSON     = "application/json, text/plain, */*"
	AcceptLanguage = "en-US,en;q=0.9"
)

// ChromeOrderedHeaders returns the Chrome 120 identity headers in the order
// and casing a Windows Chrome 120 client sends them.  Accept-Encoding is left
// to the transport so it can decode what it asked for.
func ChromeOrderedHeaders() *OrderedHeader {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Add("Accept", AcceptHTML)
	h.Add("accept-language", AcceptLanguage)
	return h
}
