//go:build sonic

package utils

import (
	"github.com/bytedance/sonic"
)

// JSON codec used by the HTTP clients and session files.
var (
	JSONMarshal   = sonic.Marshal
	JSONUnmarshal = sonic.Unmarshal
)
