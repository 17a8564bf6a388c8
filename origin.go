package toolgate

import "net/url"

// originAllowed decides whether an inbound Origin header is acceptable.
//
// The decision is pure; callers log rejections. Rules, in order:
//   - no Origin header at all: allowed (server-to-server calls never send it)
//   - explicit allow list configured: allowed iff the origin is an exact member
//   - no allow list but the server was marked as running inside a trusted
//     network: any origin is allowed
//   - otherwise only http(s) origins on localhost, 127.0.0.1 or [::1] are
//     allowed; malformed origins are rejected
func originAllowed(origin string, trustedNetwork bool, allowList []string) bool {
	if origin == "" {
		return true
	}

	if len(allowList) > 0 {
		for _, allowed := range allowList {
			if allowed == origin {
				return true
			}
		}
		return false
	}

	if trustedNetwork {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
