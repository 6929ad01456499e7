package matcher

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// extractATURI derives the at-uri a match applies to, trying in order:
//  1. an explicit aturi gjson path on the matcher, if any string result
//     under it starts with "at://";
//  2. for app.bsky.feed.post commits, the at-uri built from did/collection/rkey;
//  3. for app.bsky.feed.like commits, the liked post's subject uri.
//
// Returns "", false if none apply.
func extractATURI(aturiPath string, event gjson.Result) (string, bool) {
	if aturiPath != "" {
		found := false
		var result string
		event.Get(aturiPath).ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String {
				lower := strings.ToLower(value.String())
				if strings.HasPrefix(lower, "at://") {
					result = lower
					found = true
					return false
				}
			}
			return true
		})
		if found {
			return result, true
		}
	}

	rtype := event.Get("commit.record.$type").String()

	switch rtype {
	case "app.bsky.feed.post":
		did := event.Get("did").String()
		collection := event.Get("commit.collection").String()
		rkey := event.Get("commit.rkey").String()
		if did == "" || collection == "" || rkey == "" {
			return "", false
		}
		return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey), true
	case "app.bsky.feed.like":
		uri := event.Get("commit.record.subject.uri").String()
		if uri == "" {
			return "", false
		}
		return uri, true
	default:
		return "", false
	}
}
