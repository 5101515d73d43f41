package edge

import (
	"strings"

	"golang.org/x/text/language"

	"seo-rules-engine/internal/rules"
)

// DeviceFromUserAgent classifies a User-Agent into the targeting device set.
func DeviceFromUserAgent(ua string) rules.Device {
	switch {
	case strings.Contains(ua, "iPad"),
		strings.Contains(ua, "Tablet"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		return rules.DeviceTablet
	case strings.Contains(ua, "Mobi"),
		strings.Contains(ua, "iPhone"),
		strings.Contains(ua, "Android"):
		return rules.DeviceMobile
	default:
		return rules.DeviceDesktop
	}
}

// LanguageFromHeader returns the highest-weighted tag of an Accept-Language
// header, or "" when none can be parsed.
func LanguageFromHeader(h string) string {
	if strings.TrimSpace(h) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(h)
	if err != nil || len(tags) == 0 {
		return ""
	}
	if tags[0] == language.Und {
		return ""
	}
	return tags[0].String()
}
