// Package build holds binary identity injected at link time.
package build

import "strings"

var (
	Version = "dev"
	AppName = "WebPilot"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
