// internal/handlers/api.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/middleware"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
)

// ResultsArchive looks up results of sessions that are no longer in memory.
type ResultsArchive interface {
	LoadResults(ctx context.Context, roomCode string) (cache.FinishedSession, bool, error)
}

// API serves the read-only HTTP endpoints.
type API struct {
	logger   *logrus.Logger
	manager  *game.Manager
	archives []ResultsArchive
}

// NewAPI builds the HTTP API. Archives are consulted in order when a room is
// not in memory.
func NewAPI(logger *logrus.Logger, manager *game.Manager, archives ...ResultsArchive) *API {
	return &API{logger: logger, manager: manager, archives: archives}
}

// NewRouter wires the WebSocket gateway and the HTTP API behind the request
// logger.
func NewRouter(logger *logrus.Logger, gw *Gateway, api *API) http.Handler {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		logger.WithField("path", r.URL.Path).Errorf("panic serving request: %v", v)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}

	mux.GET("/ws", gw.ServeWS)
	mux.GET("/healthz", api.serveHealth)
	mux.GET("/sessions/:code", api.serveSession)
	mux.GET("/sessions/:code/results", api.serveResults)

	return middleware.LogMiddleware(logger)(mux)
}

func (a *API) serveHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *API) serveSession(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	snap, ok := a.manager.Snapshot(ps.ByName("code"))
	if !ok {
		writeError(w, http.StatusNotFound, game.KindRoomNotFound, game.ErrRoomNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// serveResults answers from memory first, then from the archives once the
// session has been collected.
func (a *API) serveResults(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")

	snap, results, err := a.manager.Results(code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cache.FinishedSession{Session: snap, Results: results})
		return
	case errors.Is(err, game.ErrInvalidState):
		writeError(w, http.StatusConflict, game.KindInvalidState, err.Error())
		return
	}

	for _, archive := range a.archives {
		fs, found, err := archive.LoadResults(r.Context(), code)
		if err != nil {
			a.logger.WithError(err).WithField("room", code).Warn("results lookup failed")
			continue
		}
		if found {
			writeJSON(w, http.StatusOK, fs)
			return
		}
	}
	writeError(w, http.StatusNotFound, game.KindRoomNotFound, game.ErrRoomNotFound.Error())
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: message})
}
