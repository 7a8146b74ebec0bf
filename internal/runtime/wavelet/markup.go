package wavelet

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	markupTag           = regexp.MustCompile(`<([^>]*?)>`)
	reservedProxyForRef = regexp.MustCompile(`[\s\x00-\x1f@,:<>\x7f]`)
)

// ParseMarkup approximates the plain text the server produces for appended
// markup: opening <p> and <br> tags become newlines, other tags vanish.
func ParseMarkup(markup string) string {
	return markupTag.ReplaceAllStringFunc(markup, func(tag string) string {
		name, _, _ := strings.Cut(tag[1:len(tag)-1], " ")
		if name == "p" || name == "br" {
			return "\n"
		}
		return ""
	})
}

// ValidateProxyFor rejects ids that would produce an invalid participant
// address once joined to the robot id: whitespace, control characters and
// any of @ , : < >.
func ValidateProxyFor(id string) error {
	if reservedProxyForRef.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProxyFor, id)
	}
	return nil
}

// ProxyingParticipant derives the participant address a robot uses when it
// acts on behalf of proxyFor, e.g. robot+bob@example.com.
func ProxyingParticipant(robotAddress, proxyFor string) (string, error) {
	if err := ValidateProxyFor(proxyFor); err != nil {
		return "", err
	}
	robotID, domain, ok := strings.Cut(robotAddress, "@")
	if !ok || robotID == "" {
		return "", fmt.Errorf("robotflow: invalid robot address %q", robotAddress)
	}
	robotID, version, hasVersion := strings.Cut(robotID, "#")
	base, _, _ := strings.Cut(robotID, "+")
	id := base + "+" + proxyFor
	if hasVersion {
		id += "#" + version
	}
	return id + "@" + domain, nil
}
