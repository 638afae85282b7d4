package relay

import (
	"fmt"
	"strings"

	"github.com/yolodolo42/wcwallet/internal/session"
)

const (
	uriScheme  = "wc:"
	uriVersion = "2"
)

// FormatURI builds the pairing URI for topic.
func FormatURI(topic string) session.PairingURI {
	return session.PairingURI(fmt.Sprintf("%s%s@%s?relay-protocol=rpc", uriScheme, topic, uriVersion))
}

// ParseURI extracts the pairing topic from a URI produced by FormatURI.
func ParseURI(uri session.PairingURI) (string, error) {
	rest, ok := strings.CutPrefix(string(uri), uriScheme)
	if !ok {
		return "", fmt.Errorf("%w: missing %q scheme", ErrMalformedURI, uriScheme)
	}
	topic, tail, ok := strings.Cut(rest, "@")
	if !ok || topic == "" {
		return "", fmt.Errorf("%w: missing topic", ErrMalformedURI)
	}
	version, _, _ := strings.Cut(tail, "?")
	if version != uriVersion {
		return "", fmt.Errorf("%w: unsupported version %q", ErrMalformedURI, version)
	}
	return topic, nil
}
