package backup

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned when the source URL cannot be parsed.
var ErrInvalidURL = errors.New("invalid source url")

// conversationIDPattern is the service's id shape: hyphen-separated groups of
// lowercase letters and digits, at least three.
var conversationIDPattern = regexp.MustCompile(`[a-z0-9]+-[a-z0-9]+-[a-z0-9]+`)

// ParseConversationID returns the trailing path segment of rawURL.
func ParseConversationID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	segments := strings.Split(u.Path, "/")
	return segments[len(segments)-1], nil
}

// IsConversationID reports whether id looks like a real conversation id.
func IsConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}
