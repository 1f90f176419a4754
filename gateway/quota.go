package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/firasghr/ChallengeGate/client"
	"github.com/firasghr/ChallengeGate/metrics"
	"github.com/firasghr/ChallengeGate/payload"
)

const sessionPrefix = "session="

// quotaResponse is the JSON envelope of /api/quota.
type quotaResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *string         `json:"error"`
}

func (s *Server) quotaFail(c *gin.Context, status int, outcome, msg string) {
	s.metrics.RecordQuota(outcome)
	requestLog(c, s.log).Warn("quota lookup failed", "outcome", outcome, "error", msg)
	c.JSON(status, quotaResponse{Success: false, Error: &msg})
}

// quota combines the caller's session with a freshly resolved crumb and
// returns the upstream's JSON payload.
func (s *Server) quota(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		s.quotaFail(c, http.StatusMethodNotAllowed, metrics.QuotaWrongMethod, "Method not allowed, use POST")
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		s.quotaFail(c, http.StatusBadRequest, metrics.QuotaInvalid, "Invalid JSON body")
		return
	}
	fields := gjson.GetManyBytes(raw, "session", "user_id", "target")
	session, userID, target := scalar(fields[0]), scalar(fields[1]), scalar(fields[2])
	if session == "" || userID == "" {
		s.quotaFail(c, http.StatusBadRequest, metrics.QuotaInvalid, "Missing required fields: session, user_id")
		return
	}
	session = strings.TrimPrefix(session, sessionPrefix)

	targetURL, err := s.resolveTarget(target)
	if err != nil {
		s.quotaFail(c, http.StatusBadRequest, metrics.QuotaInvalid, err.Error())
		return
	}

	res := s.resolver.Resolve(c.Request.Context(), targetURL)
	if !res.OK() {
		s.quotaFail(c, http.StatusBadGateway, metrics.QuotaNoCookie, "获取动态 Cookie 失败: "+errString(res.Err))
		return
	}

	contentType, body, err := s.fetchQuota(c.Request.Context(), targetURL, sessionPrefix+session+"; "+res.Cookie, userID)
	if err != nil {
		s.quotaFail(c, http.StatusBadGateway, metrics.QuotaTransport, "请求失败: "+err.Error())
		return
	}

	if stillGated(contentType, body) {
		s.quotaFail(c, http.StatusBadGateway, metrics.QuotaStillGated, "仍然遇到反爬挑战，Cookie 可能已失效")
		return
	}
	if !gjson.ValidBytes(body) {
		s.quotaFail(c, http.StatusBadGateway, metrics.QuotaNotJSON, "非 JSON 响应: "+truncateRunes(string(body), 500))
		return
	}

	s.metrics.RecordQuota(metrics.QuotaOK)
	log := requestLog(c, s.log)
	if mismatches, err := payload.Check(payload.QuotaSchema, body); err != nil {
		log.Warn("quota payload drift", "error", err.Error())
	} else if len(mismatches) > 0 {
		log.Warn("quota payload drift", "mismatches", payload.FormatMismatches(mismatches))
	}
	summary := gjson.GetManyBytes(body, "data.quota", "data.used_quota", "data.request_count")
	log.Info("quota lookup ok",
		"user_id", userID,
		"quota", summary[0].Raw,
		"used_quota", summary[1].Raw,
		"request_count", summary[2].Raw,
	)
	c.JSON(http.StatusOK, quotaResponse{Success: true, Data: json.RawMessage(body)})
}

// fetchQuota performs the authenticated data call and returns the response
// content type and decoded body.
func (s *Server) fetchQuota(ctx context.Context, target *url.URL, cookie, userID string) (string, []byte, error) {
	if timeout := s.cfg.RequestTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", nil, err
	}
	client.BrowserHeaders(s.cfg.UserAgent, client.AcceptJSON).ApplyTo(req.Header)
	req.Header.Set("Cookie", cookie)
	req.Header.Set("New-Api-User", userID)

	resp, err := s.data.Do(req)
	if err != nil {
		return "", nil, err
	}
	body, err := client.ReadBody(resp)
	if err != nil {
		return "", nil, err
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// stillGated reports whether the data call was answered with the challenge
// page again.  Only HTML responses are inspected, so a challenge served with
// another content type is not recognised.
func stillGated(contentType string, body []byte) bool {
	if !strings.Contains(contentType, "text/html") {
		return false
	}
	return bytes.Contains(body, []byte("acw_sc__v2")) || bytes.Contains(body, []byte("arg1="))
}

// scalar returns a JSON string or number field as text.  Other kinds count
// as absent.
func scalar(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return r.Str
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
