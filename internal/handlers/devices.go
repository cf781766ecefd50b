package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"warden/internal/middleware"
	"warden/internal/types"
)

func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	middleware.WriteJSON(w, http.StatusOK, types.DeviceList{
		Devices:    s.Accounts.Devices(user),
		MaxDevices: s.Cfg.MaxDevices,
	})
}

// RemoveDevice deletes a registered device. The device that passed the last
// check cannot be removed.
func (s *Server) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	user := middleware.User(r.Context())
	hash, err := url.PathUnescape(chi.URLParam(r, "hash"))
	if err != nil || hash == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid device hash", "invalid_request")
		return
	}

	removed, current := s.Accounts.RemoveDevice(user, hash)
	switch {
	case current:
		middleware.WriteError(w, http.StatusForbidden, "cannot remove the current device", "current_device")
	case !removed:
		middleware.WriteError(w, http.StatusNotFound, "device not found", "unknown_device")
	default:
		s.Log.WithField("user", user).Info("RemoveDevice: device removed")
		w.WriteHeader(http.StatusNoContent)
	}
}
