package gateway

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed debug.html
var debugHTML []byte

func (s *Server) debugPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", debugHTML)
}

// DebugCookieResponse reports one resolution.  Cookie and Error are JSON
// null when absent; HTMLSample is omitted when nothing was fetched.
type DebugCookieResponse struct {
	Target     string  `json:"target"`
	Cookie     *string `json:"cookie"`
	Error      *string `json:"error"`
	HTMLSample *string `json:"htmlSample,omitempty"`
}

// DebugCookie resolves target, a path on the upstream, and returns the
// result together with the HTTP status /debug-cookie answers with.
func (s *Server) DebugCookie(ctx context.Context, target string) (DebugCookieResponse, int) {
	u, err := s.resolveTarget(target)
	if err != nil {
		msg := err.Error()
		return DebugCookieResponse{Target: target, Error: &msg}, http.StatusBadRequest
	}

	res := s.resolver.Resolve(ctx, u)
	out := DebugCookieResponse{Target: u.String()}
	if res.OK() {
		cookie := res.Cookie
		out.Cookie = &cookie
	} else {
		msg := errString(res.Err)
		out.Error = &msg
	}
	if res.Fetched {
		sample := res.Sample
		out.HTMLSample = &sample
	}
	return out, http.StatusOK
}

func (s *Server) debugCookie(c *gin.Context) {
	resp, status := s.DebugCookie(c.Request.Context(), c.Query("target"))
	c.JSON(status, resp)
}
