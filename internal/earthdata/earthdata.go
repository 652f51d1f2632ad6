// Package earthdata holds the credentials used for NASA Earthdata requests.
package earthdata

import (
	"net/http"
	"strings"
)

// DefaultHosts are the domains that receive credentials when Hosts is empty.
// Subdomains match, so cmr.earthdata.nasa.gov and
// data.lpdaac.earthdatacloud.nasa.gov are covered.
var DefaultHosts = []string{"earthdata.nasa.gov", "earthdatacloud.nasa.gov"}

// Credentials authenticate CMR and band download requests. A bearer token
// takes precedence over username and password.
type Credentials struct {
	Token    string
	Username string
	Password string

	// Hosts restricts the domains credentials are sent to. Empty means DefaultHosts.
	Hosts []string
}

// Empty reports whether no credentials are configured.
func (c Credentials) Empty() bool {
	return c.Token == "" && (c.Username == "" || c.Password == "")
}

// Allowed reports whether host is one of the credential hosts or a subdomain of one.
func (c Credentials) Allowed(host string) bool {
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Apply sets the Authorization header on req when the request targets an
// allowed host. It is a no-op for empty credentials.
func (c Credentials) Apply(req *http.Request) {
	if req.URL == nil || !c.Allowed(req.URL.Hostname()) {
		return
	}
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.Username != "" && c.Password != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
}

// String hides the secret values.
func (c Credentials) String() string {
	switch {
	case c.Token != "":
		return "earthdata(token)"
	case !c.Empty():
		return "earthdata(basic:" + c.Username + ")"
	default:
		return "earthdata(none)"
	}
}
