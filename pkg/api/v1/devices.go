package v1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/httperr"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
)

// deviceRoutes holds the device listing and revocation handlers.
type deviceRoutes struct {
	devices  storage.DeviceStore
	sessions *kv.SessionStore
}

// deviceInfo is one device row on the wire.
type deviceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LastSeenAt int64  `json:"lastSeenAt"`
	IsActive   bool   `json:"isActive"`
	Current    bool   `json:"current"`
}

// listDevices lists the user's devices, marking the caller's.
func (d *deviceRoutes) listDevices(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	devices, err := d.devices.List(r.Context(), identity.UserID)
	if err != nil {
		return err
	}

	infos := make([]deviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, deviceInfo{
			ID:         dev.ID,
			Name:       dev.Name,
			LastSeenAt: dev.LastSeenAt,
			IsActive:   dev.IsActive,
			Current:    dev.ID == identity.DeviceID,
		})
	}

	writeJSON(w, http.StatusOK, map[string][]deviceInfo{"devices": infos})
	return nil
}

// revokeDevice deactivates a device and kills every session bound to it.
// The device row survives for the stale-device retention window.
func (d *deviceRoutes) revokeDevice(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}
	deviceID := chi.URLParam(r, "id")

	err = d.devices.Deactivate(r.Context(), identity.UserID, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return httperr.New(http.StatusNotFound, "device not found")
	}
	if err != nil {
		return err
	}

	sessions, err := d.sessions.List(r.Context(), identity.UserID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.Record.DeviceID != deviceID {
			continue
		}
		if err := d.sessions.Revoke(r.Context(), identity.UserID, session.JTI, config.SessionTokenTTL); err != nil {
			logger.Errorw("revoking session failed",
				"user_id", identity.UserID, "jti", session.JTI, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
	return nil
}
