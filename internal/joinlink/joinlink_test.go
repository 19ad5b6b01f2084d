package joinlink

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":          "http://localhost:8080/join",
		"https://party.example.com/":     "https://party.example.com/join",
		"https://example.com/teams":      "https://example.com/teams/join",
		"https://example.com/teams/?x=1": "https://example.com/teams/join",
	}

	for base, want := range cases {
		got, err := URL(base)
		require.NoError(t, err, base)
		assert.Equal(t, want, got, base)
	}
}

func TestURLRejectsRelativeAndForeignSchemes(t *testing.T) {
	for _, base := range []string{"", "/join", "localhost:8080", "ftp://example.com", "http://"} {
		_, err := URL(base)
		assert.ErrorIs(t, err, ErrInvalidBase, base)
	}
}

func TestGenerate(t *testing.T) {
	link, err := Generate("https://party.example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://party.example.com/join", link.URL)
	require.NotEmpty(t, link.PNG)
	assert.True(t, bytes.HasPrefix(link.PNG, []byte("\x89PNG\r\n\x1a\n")))

	require.True(t, strings.HasPrefix(link.DataURL, "data:image/png;base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link.DataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, link.PNG, decoded)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate("http://localhost:8080")
	require.NoError(t, err)
	b, err := Generate("http://localhost:8080")
	require.NoError(t, err)

	assert.Equal(t, a.PNG, b.PNG)
}

func TestBaseFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "http://party.local:8080/api/qrcode", nil)
	assert.Equal(t, "http://party.local:8080", BaseFromRequest(r, ""))

	r.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://party.local:8080/teams", BaseFromRequest(r, "/teams/"))

	r.TLS = nil
	r.Header.Set("X-Forwarded-Proto", "https, http")
	assert.Equal(t, "https://party.local:8080", BaseFromRequest(r, ""))
}
