package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetconsole/pkg/client"
	"github.com/cuemby/fleetconsole/pkg/command"
	"github.com/cuemby/fleetconsole/pkg/console"
	"github.com/cuemby/fleetconsole/pkg/events"
	"github.com/cuemby/fleetconsole/pkg/reconciler"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// RebootRequest is the optional body of a reboot. Without a timestamp the
// host reboots onto whatever build it would pick itself.
type RebootRequest struct {
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// SelectorRequest opens the version selector of an image type for one host
type SelectorRequest struct {
	Hostname string `json:"hostname"`
}

// SelectRequest picks a build from the open selector
type SelectRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// CommandResponse acknowledges a command handed to the channel
type CommandResponse struct {
	Hostname  string `json:"hostname"`
	Timestamp *int64 `json:"timestamp,omitempty"`
	Status    string `json:"status"`
}

// EventResponse is one entry of the event stream
type EventResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Server) getFleet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Snapshot())
}

func (s *Server) getImageType(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	view, ok := s.console.Snapshot().ImageType(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown image type: %s", name))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")
	inst, ok := s.console.Snapshot().FindInstance(hostname)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown instance: %s", hostname))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) reboot(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")

	var req RebootRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.console.Reboot(r.Context(), hostname, req.Timestamp); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommandResponse{
		Hostname:  hostname,
		Timestamp: req.Timestamp,
		Status:    "sent",
	})
}

func (s *Server) refreshManifest(w http.ResponseWriter, r *http.Request) {
	if err := s.console.RefreshManifest(r.Context(), r.PathValue("name")); err != nil {
		s.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) openSelector(w http.ResponseWriter, r *http.Request) {
	var req SelectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	if err := s.console.OpenSelector(r.Context(), r.PathValue("name"), req.Hostname); err != nil {
		s.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeSelector(w http.ResponseWriter, r *http.Request) {
	if err := s.console.CloseSelector(r.Context(), r.PathValue("name")); err != nil {
		s.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectBuild(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	hostname, err := s.console.SelectBuild(r.Context(), r.PathValue("name"), req.Timestamp)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommandResponse{
		Hostname:  hostname,
		Timestamp: &req.Timestamp,
		Status:    "sent",
	})
}

// streamEvents writes console events as server-sent events until the client
// goes away or the console stops
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.console.Subscribe()
	defer s.console.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev *events.Event) error {
	data, err := json.Marshal(EventResponse{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Metadata:  ev.Metadata,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

// writeCommandError maps console errors onto HTTP status codes
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconciler.ErrUnknownImageType), errors.Is(err, reconciler.ErrUnknownInstance):
		status = http.StatusNotFound
	case errors.Is(err, command.ErrNoSelector):
		status = http.StatusConflict
	case errors.Is(err, client.ErrNotConnected), errors.Is(err, console.ErrStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Command failed")
	}
	writeError(w, status, err.Error())
}

// decodeOptional decodes a JSON body into v, accepting an empty body
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
