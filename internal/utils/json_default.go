//go:build !sonic

package utils

import (
	"github.com/goccy/go-json"
)

// JSON codec used by the HTTP clients and session files.
var (
	JSONMarshal   = json.Marshal
	JSONUnmarshal = json.Unmarshal
)
