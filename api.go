package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/teamshuffle/internal/joinlink"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/session"
)

const maxBodySize = 64 << 10

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type failureEntry struct {
	PlayerID roster.PlayerID `json:"playerId"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
}

var errMalformedBody = &roster.ValidationError{Field: "body", Message: "malformed JSON request body"}

// classify maps an operation error to its HTTP status and error body.
func classify(err error) (int, apiError) {
	var ve *roster.ValidationError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, apiError{Code: "validation", Message: ve.Message, Field: ve.Field}
	case errors.Is(err, roster.ErrValidation):
		return http.StatusBadRequest, apiError{Code: "validation", Message: err.Error()}
	case errors.Is(err, roster.ErrDuplicateName):
		return http.StatusConflict, apiError{Code: "duplicate_name", Message: err.Error()}
	case errors.Is(err, roster.ErrPlayerNotFound), errors.Is(err, roster.ErrTeamNotFound):
		return http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable, apiError{Code: "unavailable", Message: "the roster store is unavailable, please retry"}
	}

	return http.StatusInternalServerError, apiError{Code: "internal", Message: "an internal error has occurred"}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	return w.Write(append(data, '\n'))
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errMalformedBody
	}

	return nil
}

// respond writes v, or the error body for err, and logs the request.
func respond(cfg *Config, w http.ResponseWriter, r *http.Request, errs chan<- error, started time.Time, status int, v any, err error) {
	if err != nil {
		var body apiError
		status, body = classify(err)
		v = map[string]apiError{"error": body}

		if status >= http.StatusInternalServerError {
			log.WithError(err).WithField("path", r.URL.Path).Error("API: Request failed")
		}
	}

	written, werr := writeJSON(cfg, w, status, v)
	if werr != nil {
		errs <- werr

		return
	}

	logf(cfg, "API: %s %s -> %d (%s) to %s in %s",
		r.Method,
		r.URL.Path,
		status,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(started).Round(time.Microsecond),
	)
}

func teamKeyParam(p httprouter.Params) (roster.TeamKey, error) {
	key, err := strconv.Atoi(p.ByName("key"))
	if err != nil || key < 1 || roster.TeamKey(key) > roster.MaxTeamKey {
		return 0, &roster.ValidationError{Field: "key", Message: fmt.Sprintf("invalid team key %q", p.ByName("key"))}
	}

	return roster.TeamKey(key), nil
}

func serveState(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		respond(cfg, w, r, errs, time.Now(), http.StatusOK, coord.List(), nil)
	}
}

func serveJoin(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		var req struct {
			Name string `json:"name"`
		}
		if err := readJSON(w, r, &req); err != nil {
			respond(cfg, w, r, errs, started, 0, nil, err)
			return
		}

		p, err := coord.Join(r.Context(), req.Name)
		respond(cfg, w, r, errs, started, http.StatusCreated, map[string]roster.Player{"player": p}, err)
	}
}

func serveRemovePlayer(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		started := time.Now()

		err := coord.Remove(r.Context(), roster.PlayerID(p.ByName("id")))
		respond(cfg, w, r, errs, started, http.StatusOK, map[string]bool{"ok": true}, err)
	}
}

func serveShuffle(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		var req struct {
			TeamSize *int `json:"teamSize"`
		}
		if err := readJSON(w, r, &req); err != nil {
			respond(cfg, w, r, errs, started, 0, nil, err)
			return
		}

		switch {
		case req.TeamSize == nil:
			respond(cfg, w, r, errs, started, 0, nil, &roster.ValidationError{Field: "teamSize", Message: "team size is required"})
			return
		case *req.TeamSize > cfg.maxTeamSize:
			respond(cfg, w, r, errs, started, 0, nil, &roster.ValidationError{
				Field:   "teamSize",
				Message: fmt.Sprintf("team size must be between 1 and %d", cfg.maxTeamSize),
			})
			return
		}

		teams, err := coord.Shuffle(r.Context(), *req.TeamSize)
		respond(cfg, w, r, errs, started, http.StatusOK, map[string][]roster.Team{"teams": teams}, err)
	}
}

func serveManualAssign(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		var req struct {
			Assignments roster.Assignment `json:"assignments"`
		}
		if err := readJSON(w, r, &req); err != nil {
			respond(cfg, w, r, errs, started, 0, nil, err)
			return
		}
		if req.Assignments == nil {
			respond(cfg, w, r, errs, started, 0, nil, &roster.ValidationError{Field: "assignments", Message: "assignments are required"})
			return
		}

		teams, err := coord.Assign(r.Context(), req.Assignments)

		var pf *roster.PartialFailure
		if !errors.As(err, &pf) {
			respond(cfg, w, r, errs, started, http.StatusOK, map[string][]roster.Team{"teams": teams}, err)
			return
		}

		failures := make([]failureEntry, 0, len(pf.Failures))
		for _, f := range pf.Failures {
			_, body := classify(f.Err)
			failures = append(failures, failureEntry{PlayerID: f.PlayerID, Code: body.Code, Message: body.Message})
		}

		respond(cfg, w, r, errs, started, http.StatusMultiStatus, struct {
			Teams    []roster.Team  `json:"teams"`
			Failures []failureEntry `json:"failures"`
			Error    apiError       `json:"error"`
		}{
			Teams:    teams,
			Failures: failures,
			Error:    apiError{Code: "partial_failure", Message: pf.Error()},
		}, nil)
	}
}

func serveCreateTeam(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		var req struct {
			Name string `json:"name"`
		}
		if r.ContentLength != 0 {
			if err := readJSON(w, r, &req); err != nil {
				respond(cfg, w, r, errs, started, 0, nil, err)
				return
			}
		}

		t, err := coord.CreateTeam(r.Context(), req.Name)
		respond(cfg, w, r, errs, started, http.StatusCreated, map[string]roster.TeamEntity{"team": t}, err)
	}
}

func serveRenameTeam(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		started := time.Now()

		key, err := teamKeyParam(p)
		if err != nil {
			respond(cfg, w, r, errs, started, 0, nil, err)
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if err := readJSON(w, r, &req); err != nil {
			respond(cfg, w, r, errs, started, 0, nil, err)
			return
		}

		t, err := coord.RenameTeam(r.Context(), key, req.Name)
		respond(cfg, w, r, errs, started, http.StatusOK, map[string]roster.TeamEntity{"team": t}, err)
	}
}

func serveDeleteTeam(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		started := time.Now()

		key, err := teamKeyParam(p)
		if err == nil {
			err = coord.DeleteTeam(r.Context(), key)
		}
		respond(cfg, w, r, errs, started, http.StatusOK, map[string]bool{"ok": true}, err)
	}
}

func serveReset(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		err := coord.Reset(r.Context())
		respond(cfg, w, r, errs, started, http.StatusOK, map[string]bool{"ok": true}, err)
	}
}

func serveStatus(cfg *Config, coord *session.Coordinator, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		respond(cfg, w, r, errs, time.Now(), http.StatusOK, map[string]any{
			"status":      coord.Status(),
			"version":     coord.List().Version,
			"subscribers": coord.Subscribers(),
		}, nil)
	}
}

// joinBase is the externally visible base URL for join links.
func joinBase(cfg *Config, r *http.Request) string {
	if cfg.publicURL != "" {
		return cfg.publicURL
	}

	return joinlink.BaseFromRequest(r, cfg.prefix)
}

func serveJoinLink(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		started := time.Now()

		link, err := joinlink.Generate(joinBase(cfg, r))
		if err != nil {
			err = &roster.ValidationError{Field: "host", Message: err.Error()}
		}
		respond(cfg, w, r, errs, started, http.StatusOK, link, err)
	}
}

func registerAPI(cfg *Config, coord *session.Coordinator, mux *httprouter.Router, errs chan<- error) {
	api := cfg.prefix + "/api"

	mux.GET(api+"/players", serveState(cfg, coord, errs))
	mux.POST(api+"/players", serveJoin(cfg, coord, errs))
	mux.DELETE(api+"/players/:id", serveRemovePlayer(cfg, coord, errs))

	mux.POST(api+"/teams/shuffle", serveShuffle(cfg, coord, errs))
	mux.POST(api+"/teams/manual", serveManualAssign(cfg, coord, errs))
	mux.POST(api+"/teams", serveCreateTeam(cfg, coord, errs))
	mux.PATCH(api+"/teams/:key", serveRenameTeam(cfg, coord, errs))
	mux.DELETE(api+"/teams/:key", serveDeleteTeam(cfg, coord, errs))

	mux.POST(api+"/reset", serveReset(cfg, coord, errs))

	mux.GET(api+"/qrcode", serveJoinLink(cfg, errs))
	mux.GET(api+"/status", serveStatus(cfg, coord, errs))
}
