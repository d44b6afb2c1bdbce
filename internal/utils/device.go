package utils

import "strings"

// DeviceLabel derives the coarse device name shown on the sessions page.
// Order matters: Android phones report both "Mobile" and "Linux".
func DeviceLabel(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"):
		return "Mobile"
	case strings.Contains(ua, "tablet"):
		return "Tablet"
	case strings.Contains(ua, "windows"):
		return "Windows PC"
	case strings.Contains(ua, "macintosh"):
		return "Mac"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}
	return "Unknown"
}
