package cors

import (
	"net/url"
	"strconv"
	"strings"
)

// normalizeOrigin validates a browser Origin header and returns its
// scheme://host[:port] form plus the hostname without port. Default ports are
// dropped so that https://a.example and https://a.example:443 compare equal.
func normalizeOrigin(originHeader string) (origin, hostname string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" || trimmed == "null" {
		return "", "", false
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	host, hostname, ok := normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, hostname, true
}

// normalizeAuthority lowercases host[:port], brackets IPv6 literals and drops
// the default port of scheme.
func normalizeAuthority(authority, scheme string) (host, hostname string, ok bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", "", false
	}

	hostname = strings.ToLower(rawHostname)
	if hostname == "" {
		return "", "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host = hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host = host + ":" + strconv.FormatUint(port, 10)
	}
	return host, hostname, true
}

// splitHostPort splits an authority host[:port] string. IPv6 literals must be
// bracketed; the hostname is returned without brackets.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		parts := strings.SplitN(rawHost, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		return "", "", false
	}
}
