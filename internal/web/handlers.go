package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/schedule"
	"github.com/sweeney/irrigationd/internal/station"
)

const maxBodyBytes = 1 << 20

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, station.ErrUnknownStation), errors.Is(err, schedule.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrScheduleExists):
		return http.StatusConflict
	case errors.Is(err, schedule.ErrInvalidRule), errors.Is(err, schedule.ErrUnknownAction),
		errors.Is(err, schedule.ErrInvalidDuration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) listStations(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.deps.Stations.Stations())
}

func (s *Server) stationStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, err := s.deps.Stations.Status(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, station.Status{ID: id, State: state})
}

func (s *Server) operateStation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req OperationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid operation body: "+err.Error())
		return
	}
	var on bool
	switch strings.ToLower(req.Action) {
	case "on":
		on = true
	case "off":
	default:
		writeError(w, http.StatusBadRequest, "action must be on or off")
		return
	}
	if req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}
	if int64(req.Duration) > schedule.MaxDurationMinutes {
		writeError(w, http.StatusBadRequest, "duration too large")
		return
	}

	if err := s.deps.Stations.Switch(r.Context(), id, on, time.Duration(req.Duration)*time.Minute); err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.deps.Stations.Station(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, info)
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.deps.Schedules.List())
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	ent, ok := s.deps.Schedules.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "schedule "+strconv.Quote(name)+" not found")
		return
	}
	writeData(w, ent)
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var ent schedule.Entry
	if err := decodeBody(w, r, &ent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule body: "+err.Error())
		return
	}
	if ent.Name == "" {
		ent.Name = name
	}
	if ent.Name != name {
		writeError(w, http.StatusBadRequest, "schedule name does not match path")
		return
	}
	if !s.deps.Stations.Has(ent.DeviceID) {
		writeError(w, http.StatusBadRequest, "unknown station "+strconv.Quote(ent.DeviceID))
		return
	}

	if err := s.deps.Schedules.Update(r.Context(), ent); err != nil {
		s.fail(w, r, err)
		return
	}
	stored, _ := s.deps.Schedules.Get(name)
	writeData(w, stored)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusOK})
}

func (s *Server) runSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Run(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Status: statusOK})
}

func (s *Server) newSchedule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !s.deps.Stations.Has(vars["deviceId"]) {
		writeError(w, http.StatusNotFound, "unknown station "+strconv.Quote(vars["deviceId"]))
		return
	}
	ent, err := s.deps.Schedules.Create(vars["name"], vars["deviceId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, ent)
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	stations := s.deps.Stations.Stations()
	out := make([]DeviceJSON, 0, len(stations))
	for _, st := range stations {
		out = append(out, DeviceJSON{Info: st, Schedules: s.deps.Schedules.CountForDevice(st.ID)})
	}
	writeData(w, out)
}

func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.deps.Events.Query(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]EventJSON, 0, len(list))
	for _, e := range list {
		out = append(out, formatEvent(e))
	}
	writeData(w, out)
}

func parseEventQuery(r *http.Request) (events.Query, error) {
	v := r.URL.Query()
	q := events.Query{
		DeviceID: v.Get("device"),
		Source:   v.Get("source"),
		Type:     events.Type(strings.ToUpper(v.Get("type"))),
	}
	if q.Type != "" && !q.Type.Valid() {
		return q, errors.Newf("unknown event type %q", v.Get("type"))
	}
	var err error
	if q.Limit, err = intParam(v.Get("limit")); err != nil {
		return q, errors.Wrap(err, "limit")
	}
	if q.Offset, err = intParam(v.Get("offset")); err != nil {
		return q, errors.Wrap(err, "offset")
	}
	if q.From, err = timeParam(v.Get("from")); err != nil {
		return q, errors.Wrap(err, "from")
	}
	if q.To, err = timeParam(v.Get("to")); err != nil {
		return q, errors.Wrap(err, "to")
	}
	return q, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.Newf("must not be negative: %d", n)
	}
	return n, nil
}

// timeParam accepts RFC 3339 or epoch milliseconds.
func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}
