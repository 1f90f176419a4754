package jschallenge

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selector tries every inline script of a challenge page against a Sandbox,
// in document order, and stops at the first one that yields a cookie.
//
// Challenge pages often carry unrelated tracking scripts next to the real
// challenge; stopping at the first success keeps a later no-op script from
// costing time or replacing a good result.
type Selector struct {
	sandbox Sandbox

	// OnAttempt, when set, is called after each script run with the
	// script's position in the document and its outcome (nil on success).
	OnAttempt func(index int, err error)
}

// NewSelector returns a Selector backed by sb.
func NewSelector(sb Sandbox) *Selector {
	return &Selector{sandbox: sb}
}

// ExtractScripts returns the body of every <script> element in html, in
// document order.  Tag matching is case-insensitive and each body ends at its
// own closing tag.  The document is parsed as HTML5, so <script> markup inside
// comments or raw-text elements such as <textarea> is not a script.
func ExtractScripts(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("jschallenge: parse html: %w", err)
	}
	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scripts = append(scripts, s.Text())
	})
	return scripts, nil
}

// Solve extracts the inline scripts of html and returns the first cookie
// crumb one of them produces.
//
// When no script succeeds, the error of the last attempted script is
// returned; earlier failures are discarded.
func (s *Selector) Solve(ctx context.Context, html string) (string, error) {
	scripts, err := ExtractScripts(html)
	if err != nil {
		return "", err
	}
	if len(scripts) == 0 {
		return "", ErrNoScripts
	}

	var lastErr error
	for i, script := range scripts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cookie, err := s.sandbox.Execute(ctx, script)
		if s.OnAttempt != nil {
			s.OnAttempt(i, err)
		}
		if err == nil && cookie != "" {
			return cookie, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoCookieProduced
	}
	return "", lastErr
}
