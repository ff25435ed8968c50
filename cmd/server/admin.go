package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/engine"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
)

const adminTimeout = 5 * time.Second

// adminAPI serves local-only read and force endpoints over the engine's
// typed API.
type adminAPI struct {
	eng    *engine.Engine
	logger *log.Logger
}

func newAdminAPI(eng *engine.Engine, logger *log.Logger) *adminAPI {
	return &adminAPI{eng: eng, logger: logger}
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/v1/users", loopbackOnly(a.listUsers))
	mux.HandleFunc("GET /admin/v1/users/{id}", loopbackOnly(a.getUser))
	mux.HandleFunc("POST /admin/v1/users/{id}/mode", loopbackOnly(a.forceMode))
	mux.HandleFunc("GET /admin/v1/blocks", loopbackOnly(a.blockOwner))
	mux.HandleFunc("GET /admin/v1/frames", loopbackOnly(a.frameOwner))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, map[string]any{"ok": false, "code": code, "error": msg})
}

func (a *adminAPI) listUsers(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	users, err := a.eng.List(ctx)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	if users == nil {
		users = []protocol.UserStateView{}
	}
	writeJSON(rw, http.StatusOK, users)
}

// getUser returns the full history unless ?history=N limits it.
func (a *adminAPI) getUser(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad user id")
		return
	}
	history := -1
	if s := r.URL.Query().Get("history"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad history")
			return
		}
		history = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	v, err := a.eng.View(ctx, id, history)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, v)
}

type forceResponse struct {
	OK        bool   `json:"ok"`
	Outcome   string `json:"outcome"`
	From      string `json:"from"`
	To        string `json:"to"`
	Code      string `json:"code,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
}

// forceMode is the admin "force" command: ?mode=CREATIVE&admin=Name&reason=...
func (a *adminAPI) forceMode(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad user id")
		return
	}
	q := r.URL.Query()
	target, err := model.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrInvalidMode, err.Error())
		return
	}
	admin := strings.TrimSpace(q.Get("admin"))
	if admin == "" {
		admin = "Console"
	}
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	res, err := a.eng.ForceMode(ctx, id, target, strings.TrimSpace(q.Get("reason")), admin)
	switch {
	case errors.Is(err, engine.ErrNotOnline):
		writeError(rw, http.StatusNotFound, protocol.ErrUnknownPlayer, err.Error())
		return
	case errors.Is(err, engine.ErrInventoryStale):
		// The host has been asked for the inventory; the caller retries.
		writeError(rw, http.StatusConflict, protocol.ErrInventoryStale, err.Error())
		return
	case err != nil:
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	a.logger.Printf("admin: %s forced %s to %s outcome=%s", admin, id, target, res.Outcome)
	writeJSON(rw, http.StatusOK, forceResponse{
		OK:        res.OK(),
		Outcome:   res.Outcome.String(),
		From:      string(res.From),
		To:        string(res.To),
		Code:      res.Outcome.Code(),
		Remaining: res.Remaining,
	})
}

// blockOwner takes ?key=world,x,y,z.
func (a *adminAPI) blockOwner(rw http.ResponseWriter, r *http.Request) {
	k, err := ownership.ParseBlockKey(r.URL.Query().Get("key"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	owner, ok := a.eng.BlockOwner(k)
	writeJSON(rw, http.StatusOK, ownerView(owner, ok))
}

func (a *adminAPI) frameOwner(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "bad frame id")
		return
	}
	owner, ok := a.eng.ObjectOwner(id)
	writeJSON(rw, http.StatusOK, ownerView(owner, ok))
}

func ownerView(owner uuid.UUID, tracked bool) protocol.OwnerView {
	if !tracked {
		return protocol.OwnerView{}
	}
	return protocol.OwnerView{Tracked: true, Owner: owner.String()}
}
