package device

import (
	"regexp"
	"strings"
)

// UserAgent is the parsed subset of a User-Agent header the auth engine
// cares about. Fields are empty when undetected.
type UserAgent struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	DeviceType     string
}

var (
	chromeVerRe  = regexp.MustCompile(`Chrome/(\d+\.?\d*)`)
	safariVerRe  = regexp.MustCompile(`Version/(\d+\.?\d*)`)
	firefoxVerRe = regexp.MustCompile(`Firefox/(\d+\.?\d*)`)
	edgeVerRe    = regexp.MustCompile(`Edg/(\d+\.?\d*)`)
	operaVerRe   = regexp.MustCompile(`(?:Opera|OPR)/(\d+\.?\d*)`)
	macVerRe     = regexp.MustCompile(`Mac OS X (\d+[._]\d+)`)
	androidVerRe = regexp.MustCompile(`Android (\d+\.?\d*)`)
	iosVerRe     = regexp.MustCompile(`(?:iPhone OS|iOS) (\d+[._]\d+)`)
)

// ParseUserAgent applies a deliberately small heuristic: it only needs to
// be stable enough for device fingerprinting and human-readable labels,
// not a full UA database.
func ParseUserAgent(ua string) UserAgent {
	if ua == "" {
		return UserAgent{}
	}

	parsed := UserAgent{DeviceType: "desktop"}

	switch {
	case strings.Contains(ua, "Tablet") || strings.Contains(ua, "iPad"):
		parsed.DeviceType = "tablet"
	case strings.Contains(ua, "Mobile") || strings.Contains(ua, "Android") || strings.Contains(ua, "iPhone"):
		parsed.DeviceType = "mobile"
	}

	switch {
	case strings.Contains(ua, "iPhone"):
		parsed.Device = "iPhone"
	case strings.Contains(ua, "iPad"):
		parsed.Device = "iPad"
	case strings.Contains(ua, "Android"):
		parsed.Device = "Android Device"
	case strings.Contains(ua, "Windows"):
		parsed.Device = "Windows PC"
	case strings.Contains(ua, "Mac"):
		parsed.Device = "Mac"
	case strings.Contains(ua, "Linux"):
		parsed.Device = "Linux PC"
	}

	switch {
	case strings.Contains(ua, "Chrome") && !strings.Contains(ua, "Edg"):
		parsed.Browser = "Chrome"
		parsed.BrowserVersion = firstGroup(chromeVerRe, ua)
	case strings.Contains(ua, "Safari") && !strings.Contains(ua, "Chrome"):
		parsed.Browser = "Safari"
		parsed.BrowserVersion = firstGroup(safariVerRe, ua)
	case strings.Contains(ua, "Firefox"):
		parsed.Browser = "Firefox"
		parsed.BrowserVersion = firstGroup(firefoxVerRe, ua)
	case strings.Contains(ua, "Edg"):
		parsed.Browser = "Edge"
		parsed.BrowserVersion = firstGroup(edgeVerRe, ua)
	case strings.Contains(ua, "Opera") || strings.Contains(ua, "OPR"):
		parsed.Browser = "Opera"
		parsed.BrowserVersion = firstGroup(operaVerRe, ua)
	}

	switch {
	case strings.Contains(ua, "Windows NT 10"):
		parsed.OS, parsed.OSVersion = "Windows", "10/11"
	case strings.Contains(ua, "Windows NT 6.3"):
		parsed.OS, parsed.OSVersion = "Windows", "8.1"
	case strings.Contains(ua, "Windows NT 6.2"):
		parsed.OS, parsed.OSVersion = "Windows", "8"
	case strings.Contains(ua, "Windows NT 6.1"):
		parsed.OS, parsed.OSVersion = "Windows", "7"
	case strings.Contains(ua, "Mac OS X"):
		parsed.OS = "macOS"
		parsed.OSVersion = strings.ReplaceAll(firstGroup(macVerRe, ua), "_", ".")
	case strings.Contains(ua, "Android"):
		parsed.OS = "Android"
		parsed.OSVersion = firstGroup(androidVerRe, ua)
	case strings.Contains(ua, "iOS") || strings.Contains(ua, "iPhone OS"):
		parsed.OS = "iOS"
		parsed.OSVersion = strings.ReplaceAll(firstGroup(iosVerRe, ua), "_", ".")
	case strings.Contains(ua, "Linux"):
		parsed.OS = "Linux"
	}

	return parsed
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}
