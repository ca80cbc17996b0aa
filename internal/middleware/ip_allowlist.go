package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rezapp/backend/internal/security"
)

// IPAllowlist restricts an endpoint to a static set of CIDR ranges. Used
// on the webhook route so only the billing gateway's egress ranges can
// reach it.
type IPAllowlist struct {
	networks []*net.IPNet
	alerts   *security.AlertRecorder
}

// NewIPAllowlist parses the configured CIDR ranges. Invalid ranges are an
// error rather than being silently skipped: a typo must not open the
// endpoint.
func NewIPAllowlist(cidrs []string, alerts *security.AlertRecorder) (*IPAllowlist, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist CIDR %q: %w", cidr, err)
		}
		networks = append(networks, network)
	}

	return &IPAllowlist{networks: networks, alerts: alerts}, nil
}

// Allowed reports whether the given IP falls inside any allowed range.
func (a *IPAllowlist) Allowed(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range a.networks {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from outside the allowlist with 403 and
// records a security alert.
func (a *IPAllowlist) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !a.Allowed(ip) {
			if a.alerts != nil {
				a.alerts.Record(security.Alert{
					Type:      security.AlertUnauthorizedOrigin,
					Severity:  security.AlertSeverityCritical,
					Message:   "webhook request from non-allowlisted IP",
					IPAddress: ip,
				})
			}
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}

		c.Next()
	}
}
