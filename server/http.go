package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pinwire/pinwire/device"
)

type errorResponse struct {
	Error string `json:"error"`
}

// respond encodes the data to JSON and responds with it and the http code.
// Errors are wrapped in an error envelope.
func respond(w http.ResponseWriter, data interface{}, httpCode int) {
	var resp interface{}
	if v, ok := data.(error); ok {
		resp = errorResponse{Error: v.Error()}
	} else {
		resp = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)

	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// respondConfig writes a device config in its canonical document form.
func respondConfig(w http.ResponseWriter, cfg device.Config) {
	data, err := device.Save(cfg)
	if err != nil {
		respond(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// maxConfigBody bounds config uploads.
const maxConfigBody = 1 << 20

// decodeConfig parses and validates a device config document from the
// request body.
func decodeConfig(req *http.Request) (device.Config, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxConfigBody))
	if err != nil {
		return device.Config{}, fmt.Errorf("unable to read config body: %w", err)
	}

	return device.Load(body)
}
