package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/pinwire/pinwire/control"
	"github.com/pinwire/pinwire/device"
	"github.com/pinwire/pinwire/store"
)

type statusResponse struct {
	Board    string `json:"board"`
	Degraded bool   `json:"degraded"`
	Pins     int    `json:"pins"`
}

func (s *Server) getStatus(res http.ResponseWriter, req *http.Request) {
	snap := s.Controller.Snapshot()

	respond(res, statusResponse{
		Board:    s.Board,
		Degraded: s.Controller.Degraded(),
		Pins:     snap.Len(),
	}, http.StatusOK)
}

// getConfig returns the persisted boot config, which may trail the live
// state until /rpc/save.
func (s *Server) getConfig(res http.ResponseWriter, req *http.Request) {
	cfg, err := s.Store.DeviceConfig()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			code = http.StatusNotFound
		}
		respond(res, err, code)
		return
	}

	respondConfig(res, cfg)
}

func (s *Server) putConfig(res http.ResponseWriter, req *http.Request) {
	cfg, err := decodeConfig(req)
	if err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	if err := s.Store.PutDeviceConfig(cfg); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusNoContent)
}

// getPins returns the live snapshot, pin by pin.
func (s *Server) getPins(res http.ResponseWriter, req *http.Request) {
	respondConfig(res, s.Controller.Snapshot())
}

type pinResponse struct {
	BCM       device.Pin       `json:"bcm"`
	Direction device.Direction `json:"direction"`
	Function  device.Function  `json:"function"`
	Pull      device.Pull      `json:"pull"`
	Level     device.Level     `json:"level"`
}

func (s *Server) getPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		respond(res, err, http.StatusBadRequest)
		return
	}

	pc, ok := s.Controller.Snapshot().Pin(pin)
	if !ok {
		respond(res, fmt.Errorf("pin %d is not configured", pin), http.StatusNotFound)
		return
	}

	respond(res, pinResponse{
		BCM:       pin,
		Direction: pc.Direction,
		Function:  pc.Function,
		Pull:      pc.Pull,
		Level:     pc.Level,
	}, http.StatusOK)
}

type pinRequest struct {
	Direction device.Direction `json:"direction"`
	Function  device.Function  `json:"function"`
	Pull      device.Pull      `json:"pull"`
}

func (s *Server) putPin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		respond(res, err, http.StatusBadRequest)
		return
	}

	var body pinRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	err = s.Controller.Configure(pin, body.Direction, body.Function, body.Pull, control.OriginRemote(req.RemoteAddr))
	if err != nil {
		respond(res, err, controllerErrCode(err))
		return
	}

	respond(res, nil, http.StatusNoContent)
}

// deletePin drops a pin from the managed config. The hardware keeps its
// last commanded state; the daemon just stops owning the pin.
func (s *Server) deletePin(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		respond(res, err, http.StatusBadRequest)
		return
	}

	cfg := s.Controller.Snapshot()
	if _, ok := cfg.Pin(pin); !ok {
		respond(res, &control.UnknownPinError{Pin: pin}, http.StatusNotFound)
		return
	}
	cfg.RemovePin(pin)

	if err := s.Controller.Apply(cfg, control.OriginRemote(req.RemoteAddr)); err != nil {
		respond(res, err, controllerErrCode(err))
		return
	}

	respond(res, nil, http.StatusNoContent)
}

func (s *Server) putPinLevel(res http.ResponseWriter, req *http.Request) {
	pin, err := pinParam(req)
	if err != nil {
		respond(res, err, http.StatusBadRequest)
		return
	}

	var level device.Level
	if err := json.NewDecoder(req.Body).Decode(&level); err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	err = s.Controller.SetLevel(pin, level, control.OriginRemote(req.RemoteAddr))
	if err != nil {
		respond(res, err, controllerErrCode(err))
		return
	}

	respond(res, nil, http.StatusNoContent)
}

func (s *Server) profiles(res http.ResponseWriter, req *http.Request) {
	profiles, err := s.Store.ListProfiles()
	if err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, profiles, http.StatusOK)
}

func (s *Server) getProfile(res http.ResponseWriter, req *http.Request) {
	params := httprouter.ParamsFromContext(req.Context())
	name := params.ByName("name")

	cfg, err := s.Store.Profile(name)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			code = http.StatusNotFound
		}
		respond(res, err, code)
		return
	}

	respondConfig(res, cfg)
}

func (s *Server) putProfile(res http.ResponseWriter, req *http.Request) {
	params := httprouter.ParamsFromContext(req.Context())
	name := params.ByName("name")

	cfg, err := decodeConfig(req)
	if err != nil {
		respond(res, err, http.StatusUnprocessableEntity)
		return
	}

	if err := s.Store.PutProfile(name, cfg); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusNoContent)
}

func (s *Server) deleteProfile(res http.ResponseWriter, req *http.Request) {
	params := httprouter.ParamsFromContext(req.Context())
	name := params.ByName("name")

	if err := s.Store.DeleteProfile(name); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusNoContent)
}

// applyConfig pushes the persisted boot config onto the hardware.
func (s *Server) applyConfig(res http.ResponseWriter, req *http.Request) {
	cfg, err := s.Store.DeviceConfig()
	if err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	if err := s.Controller.Apply(cfg, control.OriginRemote(req.RemoteAddr)); err != nil {
		respond(res, err, controllerErrCode(err))
		return
	}

	respond(res, nil, http.StatusOK)
}

func (s *Server) applyProfile(res http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("name")

	cfg, err := s.Store.Profile(name)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			code = http.StatusNotFound
		}
		respond(res, err, code)
		return
	}

	if err := s.Controller.Apply(cfg, control.OriginRemote(req.RemoteAddr)); err != nil {
		respond(res, err, controllerErrCode(err))
		return
	}

	respond(res, nil, http.StatusOK)
}

// saveConfig persists the live snapshot as the boot config.
func (s *Server) saveConfig(res http.ResponseWriter, req *http.Request) {
	if err := s.Store.PutDeviceConfig(s.Controller.Snapshot()); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusOK)
}

func (s *Server) reinitialize(res http.ResponseWriter, req *http.Request) {
	if err := s.Controller.Reinitialize(); err != nil {
		respond(res, err, http.StatusInternalServerError)
		return
	}

	respond(res, nil, http.StatusOK)
}

func pinParam(req *http.Request) (device.Pin, error) {
	params := httprouter.ParamsFromContext(req.Context())

	n, err := strconv.ParseUint(params.ByName("pin"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("pin must be a BCM number: %w", err)
	}

	return device.Pin(n), nil
}

func controllerErrCode(err error) int {
	switch {
	case errors.Is(err, &control.UnknownPinError{}):
		return http.StatusNotFound
	case errors.Is(err, &control.ValidationError{}):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
