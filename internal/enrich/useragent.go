package enrich

import (
	"strings"

	"github.com/mssola/useragent"
)

// UserAgent is the decomposition of a User-Agent header. Facets the parser could not
// determine are nil.
type UserAgent struct {
	BrowserName          *string
	BrowserVersion       *string
	BrowserEngineName    *string
	BrowserEngineVersion *string
	DeviceType           *string
	DeviceVendor         *string
	DeviceModel          *string
	CPUArchitecture      *string
	OSName               *string
	OSVersion            *string
}

type UserAgentParser interface {
	Parse(userAgent string) UserAgent
}

const (
	DeviceTypeMobile = "mobile"
	DeviceTypeTablet = "tablet"
)

type uaParser struct{}

// NewUserAgentParser returns the default parser backed by mssola/useragent.
func NewUserAgentParser() UserAgentParser {
	return uaParser{}
}

func (uaParser) Parse(s string) UserAgent {
	ua := useragent.New(s)
	lower := strings.ToLower(s)

	var out UserAgent
	name, version := ua.Browser()
	out.BrowserName = nullable(name)
	out.BrowserVersion = nullable(version)

	engine, engineVersion := ua.Engine()
	out.BrowserEngineName = nullable(engine)
	out.BrowserEngineVersion = nullable(engineVersion)

	osInfo := ua.OSInfo()
	out.OSName = nullable(osInfo.Name)
	out.OSVersion = nullable(osInfo.Version)

	out.DeviceType = nullable(deviceType(ua, lower))
	out.DeviceModel = nullable(deviceModel(ua, lower))
	out.DeviceVendor = nullable(deviceVendor(lower))
	out.CPUArchitecture = nullable(cpuArchitecture(lower))
	return out
}

// Desktop user agents have no device type.
func deviceType(ua *useragent.UserAgent, lower string) string {
	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		return DeviceTypeTablet
	case ua.Mobile():
		return DeviceTypeMobile
	}
	return ""
}

func deviceModel(ua *useragent.UserAgent, lower string) string {
	for _, model := range []string{"iPhone", "iPad", "iPod"} {
		if strings.Contains(lower, strings.ToLower(model)) {
			return model
		}
	}
	if strings.Contains(lower, "android") {
		return ua.Model()
	}
	return ""
}

var deviceVendors = []struct {
	marker string
	vendor string
}{
	{"iphone", "Apple"},
	{"ipad", "Apple"},
	{"ipod", "Apple"},
	{"macintosh", "Apple"},
	{"sm-", "Samsung"},
	{"samsung", "Samsung"},
	{"pixel", "Google"},
	{"nexus", "Google"},
	{"huawei", "Huawei"},
	{"xiaomi", "Xiaomi"},
	{"redmi", "Xiaomi"},
	{"oneplus", "OnePlus"},
	{"moto", "Motorola"},
	{"nokia", "Nokia"},
}

func deviceVendor(lower string) string {
	for _, v := range deviceVendors {
		if strings.Contains(lower, v.marker) {
			return v.vendor
		}
	}
	return ""
}

var cpuArchitectures = []struct {
	markers []string
	arch    string
}{
	{[]string{"x86_64", "x64;", "win64", "wow64", "amd64"}, "amd64"},
	{[]string{"aarch64", "arm64"}, "arm64"},
	{[]string{"armv7", "armv8l", "arm;"}, "arm"},
	{[]string{"i686", "i386", "x86;"}, "ia32"},
}

func cpuArchitecture(lower string) string {
	for _, c := range cpuArchitectures {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return c.arch
			}
		}
	}
	return ""
}
