package node

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/irhit/pkg/api"
	"github.com/heitortanoue/irhit/pkg/fleet"
	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/sim"
	"github.com/heitortanoue/irhit/pkg/store"
)

var (
	startTime       = time.Now()
	errInvalidLimit = errors.New("limit must be a non-negative integer")
)

type shotRequest struct {
	Address uint16 `json:"address"`
	Command uint8  `json:"command"`
}

type coverRequest struct {
	Covered bool `json:"covered"`
}

type positionRequest struct {
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Altitude  *float64 `json:"alt,omitempty"`
}

// MountReporter installs the reporter's handlers. rx and sensor are the
// simulated peripherals driven by POST /ir and POST /cover.
func MountReporter(s *api.Server, r *Reporter, rx *sim.IrReceiver, sensor *sim.CoverageSensor) {
	s.StatsHandler = func(w http.ResponseWriter, req *http.Request) {
		stats := r.GetStats()
		stats["uptime"] = time.Since(startTime).Seconds()
		api.WriteJSON(w, http.StatusOK, stats)
	}

	s.ShotHandler = func(w http.ResponseWriter, req *http.Request) {
		var shot shotRequest
		if err := api.DecodeJSON(w, req, &shot); err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		rx.Fire(shot.Address, shot.Command)
		api.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "Shot injected",
			"address": shot.Address,
			"command": shot.Command,
		})
	}

	s.CoverHandler = func(w http.ResponseWriter, req *http.Request) {
		var cover coverRequest
		if err := api.DecodeJSON(w, req, &cover); err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		sensor.Cover(cover.Covered)
		api.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"message": "Sensor updated",
			"covered": cover.Covered,
		})
	}
}

// MountTracker installs the tracker's handlers. logs and static may be nil.
func MountTracker(s *api.Server, t *Tracker, logs *store.LogStore, static *gps.StaticSource) {
	s.StatsHandler = func(w http.ResponseWriter, req *http.Request) {
		stats := t.GetStats(req.Context())
		stats["uptime"] = time.Since(startTime).Seconds()
		stats["api"] = s.Hub().GetStats()
		api.WriteJSON(w, http.StatusOK, stats)
	}

	s.HitsHandler = func(w http.ResponseWriter, req *http.Request) {
		limit, err := queryLimit(req)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		hits, err := t.State().RecentHits(req.Context(), limit)
		if err != nil {
			api.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"hits":  hits,
			"count": len(hits),
		})
	}

	s.HitHandler = func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(api.Var(req, "id"))
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "invalid hit id")
			return
		}
		hits, err := t.State().RecentHits(req.Context(), 0)
		if err != nil {
			api.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		for _, rec := range hits {
			if rec.ID == id {
				api.WriteJSON(w, http.StatusOK, rec)
				return
			}
		}
		api.WriteError(w, http.StatusNotFound, "hit not found")
	}

	if logs != nil {
		s.LogsHandler = func(w http.ResponseWriter, req *http.Request) {
			limit, err := queryLimit(req)
			if err != nil {
				api.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			lines, err := logs.Lines(limit)
			if err != nil {
				api.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			api.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"lines": lines,
				"count": len(lines),
			})
		}
	}

	if static != nil {
		s.PositionHandler = func(w http.ResponseWriter, req *http.Request) {
			var pos positionRequest
			if err := api.DecodeJSON(w, req, &pos); err != nil {
				api.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			if pos.Latitude < -90 || pos.Latitude > 90 || pos.Longitude < -180 || pos.Longitude > 180 {
				api.WriteError(w, http.StatusBadRequest, "position outside the globe")
				return
			}

			static.SetPosition(pos.Latitude, pos.Longitude)
			if pos.Altitude != nil {
				fix := static.Read()
				fix.AltitudeMeters = *pos.Altitude
				static.Set(fix)
			}
			if err := t.UpdateFix(req.Context(), static.Read(), time.Now()); err != nil {
				api.WriteError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			api.WriteJSON(w, http.StatusOK, map[string]interface{}{
				"message": "Position updated successfully",
				"lat":     pos.Latitude,
				"lon":     pos.Longitude,
			})
		}
	}
}

// MountMembers serves the fleet member list.
func MountMembers(s *api.Server, m *fleet.Membership) {
	s.MembersHandler = func(w http.ResponseWriter, req *http.Request) {
		members := m.Members()
		api.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"members": members,
			"count":   len(members),
			"stats":   m.GetStats(),
		})
	}
}

func queryLimit(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errInvalidLimit
	}
	return limit, nil
}
