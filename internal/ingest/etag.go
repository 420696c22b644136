package ingest

import (
	"fmt"
	"strings"
)

// entityTag formats the version token of a session revision.
func entityTag(sessionID string, rev uint64) string {
	return fmt.Sprintf(`"%s-%d"`, sessionID, rev)
}

// ifMatchSatisfied reports whether an If-Match header value selects current.
// The value may be "*" or a comma separated list of entity tags; weak tags
// compare by their opaque part.
func ifMatchSatisfied(ifMatch, current string) bool {
	for _, tag := range strings.Split(ifMatch, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" {
			return true
		}
		if strings.TrimPrefix(tag, "W/") == current {
			return true
		}
	}
	return false
}
