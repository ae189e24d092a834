package server

import (
	"errors"
	"math"
	"net/http"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

type PublicPlane struct {
	Alt      float64 `json:"alt"`
	Az       float64 `json:"az"`
	Distance float64 `json:"distance"`
}

type PublicSatellite struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

type Constellation struct {
	Name string                     `json:"constellation_name"`
	List map[string]PublicSatellite `json:"list"`
}

type PublicSky struct {
	Airplanes  map[string]PublicPlane    `json:"airplanes"`
	Satellites map[string]*Constellation `json:"satellites"`
	SnapshotID int64                     `json:"snapshot_id,omitempty"`
}

type PublicSnapshotItem struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
}

// FormatPublic groups objects the way public consumers read them: aircraft by
// callsign, satellites by constellation, keyed by the readable timestamp.
func FormatPublic(objs []visibility.Object, timestamp string) map[string]*PublicSky {
	sky := &PublicSky{
		Airplanes:  map[string]PublicPlane{},
		Satellites: map[string]*Constellation{},
	}
	for _, o := range objs {
		if o.Kind == visibility.KindAircraft {
			sky.Airplanes[o.Name] = PublicPlane{
				Alt:      round2(o.AltitudeDeg),
				Az:       round2(o.AzimuthDeg),
				Distance: round2(o.DistanceM),
			}
			continue
		}
		c, ok := sky.Satellites[o.GroupID]
		if !ok {
			c = &Constellation{Name: o.GroupID, List: map[string]PublicSatellite{}}
			sky.Satellites[o.GroupID] = c
		}
		c.List[o.Name] = PublicSatellite{Alt: round2(o.AltitudeDeg), Az: round2(o.AzimuthDeg)}
	}
	return map[string]*PublicSky{timestamp: sky}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Server) handlePublicLatest(w http.ResponseWriter, r *http.Request) {
	at, objs, err := s.Scheduler.Live(r.Context())
	if err != nil {
		if !errors.Is(err, scheduler.ErrRateLimited) {
			utils.Component("api").Debugf("Live computation aborted: %v", err)
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FormatPublic(objs, utils.FormatTimestamp(at)))
}

func (s *Server) handlePublicSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.DB.ListSnapshots(r.Context(), s.HistoryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]PublicSnapshotItem, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, PublicSnapshotItem{ID: sn.ID, Timestamp: sn.ReadableTime})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePublicSnapshot(w http.ResponseWriter, r *http.Request) {
	sn, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	out := FormatPublic(sn.Objects, sn.ReadableTime)
	out[sn.ReadableTime].SnapshotID = sn.ID
	writeJSON(w, http.StatusOK, out)
}
