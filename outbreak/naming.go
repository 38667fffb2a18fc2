package outbreak

import (
	"regexp"
	"strings"
)

const (
	modelPrefix = "model_"
	ModelExt    = ".model"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// ModelKey maps a country name to a filesystem-safe key by replacing every
// character outside [A-Za-z0-9] with an underscore.
func ModelKey(country string) string {
	return unsafeKeyChars.ReplaceAllString(country, "_")
}

// ModelFilename is the artifact name for a country, e.g.
// "S. Korea" -> "model_S__Korea.model".
func ModelFilename(country string) string {
	return modelPrefix + ModelKey(country) + ModelExt
}

// keyFromFilename reverses ModelFilename for a base name. ok is false for
// files that are not model artifacts.
func keyFromFilename(name string) (string, bool) {
	if !strings.HasPrefix(name, modelPrefix) || !strings.HasSuffix(name, ModelExt) {
		return "", false
	}
	key := strings.TrimSuffix(strings.TrimPrefix(name, modelPrefix), ModelExt)
	if key == "" {
		return "", false
	}
	return key, true
}
