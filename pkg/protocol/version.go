package protocol

import "slices"

// Protocol revisions, oldest first.
const (
	Version20241105 = "2024-11-05"
	Version20250326 = "2025-03-26"
	Version20250618 = "2025-06-18"
	Version20251125 = "2025-11-25"

	// LatestVersion is offered by initiators that are not configured otherwise.
	LatestVersion = Version20251125
)

var supportedVersions = []string{
	Version20251125,
	Version20250618,
	Version20250326,
	Version20241105,
}

// SupportedVersions returns every revision this module implements, newest first.
func SupportedVersions() []string {
	return slices.Clone(supportedVersions)
}

// IsSupportedVersion reports whether v is a known revision.
func IsSupportedVersion(v string) bool {
	return slices.Contains(supportedVersions, v)
}

// NegotiateVersion selects the revision a receiver answers with. The offered
// revision is accepted only if it is in supported; there is no fallback.
func NegotiateVersion(offered string, supported []string) (string, bool) {
	if slices.Contains(supported, offered) {
		return offered, true
	}
	return "", false
}
