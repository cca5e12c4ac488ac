package instance

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sw33tLie/pbxsched/internal/utils"
	apperrors "github.com/sw33tLie/pbxsched/pkg/errors"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// DefaultHostingDomain is the domain tenants live under when only their
// name is given.
const DefaultHostingDomain = "cloudpbx.de"

var tenantName = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// NormalizeBaseURL turns operator input into the canonical https origin of a
// console. A bare tenant name expands to https://<name>.<hostingDomain>.
func NormalizeBaseURL(input, hostingDomain string) (string, error) {
	if hostingDomain == "" {
		hostingDomain = DefaultHostingDomain
	}
	hostingDomain = strings.ToLower(strings.TrimSpace(hostingDomain))

	s := strings.TrimSpace(input)
	if s == "" {
		return "", apperrors.NewValidationError("base URL is required").AddField("baseUrl", "required", input)
	}
	if tenantName.MatchString(s) {
		return "https://" + strings.ToLower(s) + "." + hostingDomain, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" || u.Opaque != "" {
		return "", apperrors.NewValidationError("base URL must be a tenant name or an http(s) URL").AddField("baseUrl", "invalid", input)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperrors.NewValidationError("base URL must use http or https").AddField("baseUrl", "unsupported scheme", u.Scheme)
	}

	host := u.Host
	if isHostedDomain(u.Hostname(), hostingDomain) {
		host = strings.ToLower(host)
	}
	out := url.URL{Scheme: "https", Host: host}
	return out.String(), nil
}

func isHostedDomain(hostname, hostingDomain string) bool {
	h := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if h == hostingDomain || strings.HasSuffix(h, "."+hostingDomain) {
		return true
	}
	registrable, err := publicsuffix.Domain(h)
	return err == nil && registrable == hostingDomain
}

// ID derives the stable instance identifier from a normalized base URL.
func ID(normalizedBaseURL string) string {
	return "inst_" + utils.HashWithDomain("pbxsched/instance", normalizedBaseURL)[:16]
}
