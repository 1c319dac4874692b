package utils

const maskKeep = 4

// MaskSecret hides a credential for log output, keeping the first few
// characters so operators can tell which key is loaded. Values shorter
// than the kept prefix are hidden entirely.
func MaskSecret(secret string) string {
	runes := []rune(secret)
	if len(runes) <= maskKeep {
		return "*****"
	}
	return string(runes[:maskKeep]) + "*****"
}
