package uhttp

import "strings"

// IsJSONContentType accepts application/json and vendor variants such as application/vnd.pgrst.object+json.
func IsJSONContentType(contentType string) bool {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if !strings.HasPrefix(contentType, "application") {
		return false
	}

	if !strings.Contains(contentType, "json") {
		return false
	}

	return true
}
