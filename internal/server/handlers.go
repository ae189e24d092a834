package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/geo"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/storage"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

type HistoryItem struct {
	ID           int64   `json:"id"`
	Timestamp    float64 `json:"timestamp"`
	ReadableTime string  `json:"readable_time"`
	ObjectCount  int     `json:"object_count"`
}

type ObjectView struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Group string  `json:"group"`
	Az    float64 `json:"az"`
	Alt   float64 `json:"alt"`
	Dist  float64 `json:"dist"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

type SnapshotView struct {
	ID                     int64        `json:"id"`
	Timestamp              float64      `json:"timestamp"`
	ReadableTime           string       `json:"readable_time"`
	SatelliteCount         int          `json:"satellite_count"`
	AircraftCount          int          `json:"aircraft_count"`
	Objects                []ObjectView `json:"objects"`
	AircraftRateLimitUntil float64      `json:"aircraft_rate_limit_until"`
}

type ForceRequest struct {
	WaitForAircraft *bool `json:"wait_for_aircraft"`
}

type GeoView struct {
	World geo.Columns `json:"world"`
	USA   geo.Columns `json:"usa"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Scheduler.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.DB.ListSnapshots(r.Context(), s.HistoryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]HistoryItem, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, HistoryItem{
			ID:           sn.ID,
			Timestamp:    utils.UnixSeconds(sn.CapturedAt),
			ReadableTime: sn.ReadableTime,
			ObjectCount:  sn.ObjectCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sn, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}

	view := SnapshotView{
		ID:                     sn.ID,
		Timestamp:              utils.UnixSeconds(sn.CapturedAt),
		ReadableTime:           sn.ReadableTime,
		Objects:                make([]ObjectView, 0, len(sn.Objects)),
		AircraftRateLimitUntil: s.Scheduler.Status().AircraftRateLimitUntil,
	}
	view.SatelliteCount, view.AircraftCount = visibility.Count(sn.Objects)
	for _, o := range sn.Objects {
		view.Objects = append(view.Objects, ObjectView{
			Name:  o.Name,
			Type:  string(o.Kind),
			Group: o.GroupID,
			Az:    o.AzimuthDeg,
			Alt:   o.AltitudeDeg,
			Dist:  o.DistanceM,
			X:     o.ECEFKm[0],
			Y:     o.ECEFKm[1],
			Z:     o.ECEFKm[2],
		})
	}
	utils.Component("api").Infof("Displaying snapshot #%d from %s: %d satellites, %d aircraft",
		sn.ID, sn.ReadableTime, view.SatelliteCount, view.AircraftCount)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleForceSnapshot(w http.ResponseWriter, r *http.Request) {
	wait := true
	var req ForceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, scheduler.ForceResult{Status: scheduler.StatusError, Message: "invalid request body"})
		return
	}
	if req.WaitForAircraft != nil {
		wait = *req.WaitForAircraft
	}

	res := s.Scheduler.Force(r.Context(), wait)
	code := http.StatusBadRequest
	switch res.Status {
	case scheduler.StatusSuccess:
		code = http.StatusOK
	case scheduler.StatusRateLimited:
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, res)
}

func (s *Server) handleGeo(w http.ResponseWriter, r *http.Request) {
	if s.Geo == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	ov, err := s.Geo.Load()
	if err != nil {
		utils.Component("geo").Debugf("Geo overlay not available: %v", err)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, GeoView{World: geo.ToColumns(ov.World), USA: geo.ToColumns(ov.USA)})
}

// loadSnapshot resolves the {id} path value, writing the error response
// itself when it cannot.
func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (storage.Snapshot, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot id")
		return storage.Snapshot{}, false
	}
	sn, err := s.DB.GetSnapshot(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "snapshot not found")
		return storage.Snapshot{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return storage.Snapshot{}, false
	}
	return sn, true
}
