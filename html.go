/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/teamshuffle/internal/joinlink"
)

//go:embed assets/*
var assets embed.FS

func newPage(cfg *Config, title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
	htmlBody.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/app.css">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf(`<script defer src="%s/assets/app.js"></script>`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))
	htmlBody.WriteString(fmt.Sprintf(`<body data-prefix="%s">%s</body></html>`, html.EscapeString(cfg.prefix), body))

	return htmlBody.String()
}

const hostBody = `<main id="host">
<header><h1>teamshuffle</h1><span id="status" class="status">connecting</span></header>
<section class="share"><img src="qr" alt="Scan to join" width="320" height="320"><a id="join-url" href="join">join</a></section>
<section class="controls">
<label>Team size <input id="team-size" type="number" min="1" value="2"></label>
<button id="shuffle">Shuffle</button>
<button id="new-team">New team</button>
<button id="reset" class="danger">Reset</button>
</section>
<p id="error" class="error" hidden></p>
<section id="teams"></section>
<section><h2>Players <span id="count">0</span></h2><ul id="players"></ul></section>
</main>`

const joinBody = `<main id="join">
<header><h1>Join the game</h1><span id="status" class="status">connecting</span></header>
<form id="join-form"><input id="name" name="name" autocomplete="nickname" placeholder="Your name" required><button type="submit">Join</button></form>
<p id="error" class="error" hidden></p>
<p id="welcome" hidden></p>
<section id="teams"></section>
</main>`

func servePage(cfg *Config, title, body string) httprouter.Handle {
	page := []byte(newPage(cfg, title, body))

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(page)))
		securityHeaders(cfg, w)

		written, err := w.Write(page)
		if err != nil {
			return
		}

		logf(cfg, "SERVE: %s page (%s) to %s in %s",
			title,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHomePage(cfg *Config) httprouter.Handle {
	return servePage(cfg, "teamshuffle", hostBody)
}

func serveJoinPage(cfg *Config) httprouter.Handle {
	return servePage(cfg, "Join | teamshuffle", joinBody)
}

// serveQRCode renders the join link of this server as a PNG.
func serveQRCode(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		link, err := joinlink.Generate(joinBase(cfg, r))
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_, err = w.Write(link.PNG)
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveAssets(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := "assets/" + strings.TrimPrefix(p.ByName("asset"), "/")

		data, err := assets.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		switch strings.ToLower(filepath.Ext(fname)) {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		}

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: *
Disallow: /api/
Disallow: /ws
Disallow: /join
`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
