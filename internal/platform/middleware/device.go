package middleware

import (
	"context"

	"github.com/mssola/useragent"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/requestcontext"
)

// Device is the client software named by a User-Agent header.
type Device struct {
	Browser string
	OS      string
	Mobile  bool
	Bot     bool
}

// ParseDevice reads browser and operating system out of a User-Agent. An
// empty header yields the zero Device.
func ParseDevice(userAgent string) Device {
	if userAgent == "" {
		return Device{}
	}
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	if version != "" {
		browser += " " + version
	}
	return Device{
		Browser: browser,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}

// DeviceFromContext parses the User-Agent captured by ClientMetadata.
func DeviceFromContext(ctx context.Context) Device {
	return ParseDevice(requestcontext.UserAgent(ctx))
}

// LogAttrs returns the device as slog key/value pairs.
func (d Device) LogAttrs() []any {
	return []any{"browser", d.Browser, "os", d.OS, "mobile", d.Mobile, "bot", d.Bot}
}
