package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// requesterHeaders are checked in order; the first non-empty value wins.
// oauth2-proxy sets the first two, kube-rbac-proxy the third.
var requesterHeaders = []string{
	"X-Forwarded-User",
	"X-Forwarded-Email",
	"X-Remote-User",
}

// anonymousRequester is recorded when no proxy identity header is present.
const anonymousRequester = "api-client"

// maxRequesterLen caps what gets stored on the run row; proxy headers are
// attacker-influenced on misconfigured ingresses.
const maxRequesterLen = 256

// extractRequester resolves the identity recorded as the run's requester.
func extractRequester(c *echo.Context) string {
	for _, h := range requesterHeaders {
		v := strings.TrimSpace(c.Request().Header.Get(h))
		if v == "" {
			continue
		}
		if len(v) > maxRequesterLen {
			v = v[:maxRequesterLen]
		}
		return v
	}
	return anonymousRequester
}
