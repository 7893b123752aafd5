package mail

import "net/url"

// safeFilename renders filename safe for use as a storage key path
// segment, URL-encoding everything except the characters that are already
// safe in a path component.
func safeFilename(filename string) string {
	if filename == "" {
		return "attachment"
	}
	return url.PathEscape(filename)
}
