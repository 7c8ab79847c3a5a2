package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "whse***REDACTED***", MaskSecret("whsec_abcdef123"))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "", MaskSecret(""))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://hooks.slack.com/services/***/***/***",
		MaskURL("https://hooks.slack.com/services/T0000000/B0000000/XXXXXXXXXXXXXXXX"))
	assert.Equal(t, "https://example.com", MaskURL("https://example.com"))
	assert.Equal(t, "", MaskURL(""))
}

func TestMaskString(t *testing.T) {
	masked := MaskString(`dial failed signing_key=abcdef0123456789 for host`)
	assert.Equal(t, `dial failed signing_key=***REDACTED*** for host`, masked)
	assert.Equal(t, "nothing to hide", MaskString("nothing to hide"))
}
