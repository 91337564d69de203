package v1

import (
	"errors"
	"net/http"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/httperr"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/sync"
)

// syncRoutes holds the sync-engine handlers.
type syncRoutes struct {
	svc *sync.Service
}

// push applies a batch of encrypted operations. The authoritative device
// ID comes from the session; a body that claims another device is a 403.
func (s *syncRoutes) push(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	var req sync.PushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := checkDevice(req.DeviceID, identity.DeviceID); err != nil {
		return err
	}

	resp, err := s.svc.Push(r.Context(), identity.UserID, identity.DeviceID, req)
	if errors.Is(err, sync.ErrBatchTooLarge) {
		return httperr.WithCode(err, http.StatusBadRequest)
	}
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, resp)
	return nil
}

// pull returns one page of changed rows.
func (s *syncRoutes) pull(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	var req sync.PullRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := checkDevice(req.DeviceID, identity.DeviceID); err != nil {
		return err
	}

	resp, err := s.svc.Pull(r.Context(), identity.UserID, identity.DeviceID, req)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, resp)
	return nil
}

// resolve records a manual conflict resolution.
func (s *syncRoutes) resolve(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	var req sync.ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if req.TaskID == "" {
		return httperr.New(http.StatusBadRequest, "taskId is required")
	}

	err = s.svc.Resolve(r.Context(), identity.UserID, identity.DeviceID, req)
	switch {
	case errors.Is(err, sync.ErrBadResolution):
		return httperr.WithCode(err, http.StatusBadRequest)
	case errors.Is(err, sync.ErrTaskNotFound):
		return httperr.WithCode(err, http.StatusNotFound)
	case err != nil:
		return err
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
	return nil
}

// status summarizes sync health for the current device.
func (s *syncRoutes) status(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	st, err := s.svc.Status(r.Context(), identity.UserID, identity.DeviceID)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, st)
	return nil
}

// stats returns every stored envelope plus aggregates.
func (s *syncRoutes) stats(w http.ResponseWriter, r *http.Request) error {
	identity, err := identityOf(r)
	if err != nil {
		return err
	}

	stats, err := s.svc.Stats(r.Context(), identity.UserID)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, stats)
	return nil
}

// checkDevice rejects bodies claiming a device other than the session's.
// An empty body value is allowed; the session is authoritative anyway.
func checkDevice(claimed, actual string) error {
	if claimed != "" && claimed != actual {
		return httperr.New(http.StatusForbidden, "deviceId does not match the authenticated session")
	}
	return nil
}
