// Package joinlink builds the shareable join URL and its QR code.
package joinlink

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Size is the QR code edge in pixels; large enough to scan from a phone.
const Size = 320

// JoinPath is appended to the base URL.
const JoinPath = "/join"

var ErrInvalidBase = errors.New("base URL must be absolute http(s)")

type Link struct {
	URL     string `json:"joinUrl"`
	PNG     []byte `json:"-"`
	DataURL string `json:"qrCode"`
}

// URL returns the canonical join URL for base.
func URL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", ErrInvalidBase
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidBase
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + JoinPath
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// Generate encodes the join URL for base as a PNG QR code.
func Generate(base string) (Link, error) {
	join, err := URL(base)
	if err != nil {
		return Link{}, err
	}

	png, err := qrcode.Encode(join, qrcode.Medium, Size)
	if err != nil {
		return Link{}, err
	}

	return Link{
		URL:     join,
		PNG:     png,
		DataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// BaseFromRequest derives the externally visible base URL of r, respecting
// TLS and X-Forwarded-Proto. prefix is the path the app is mounted on.
func BaseFromRequest(r *http.Request, prefix string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	return scheme + "://" + r.Host + strings.TrimSuffix(prefix, "/")
}
