package cmd

import (
	"fmt"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/aircraft"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/config"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/geo"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/horizon"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/position"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/state"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/storage"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/tle"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

// app is every long-lived component of one process, wired from the config.
type app struct {
	cfg   config.Config
	db    *storage.DB
	state *state.Shared
	geo   *geo.Client
	sched *scheduler.Scheduler
}

func newApp(cfg config.Config) (*app, error) {
	db, err := storage.Open(cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DBName, err)
	}

	st := state.New(cfg.Cache.StateFile, utils.Component("state"))

	elements := tle.NewClient(cfg.APIs.CelestrakTLE, cfg.APIs.McCantsClassfd, cfg.Cache.TLEFile,
		cfg.Timing.TLEFetchInterval, utils.Component("tle"))

	obs := cfg.Observatory
	source := aircraft.Source(cfg.APIs.AircraftSource)
	baseURL := cfg.APIs.AirplanesLive
	if source == aircraft.OpenSky {
		baseURL = cfg.APIs.OpenSky
	}
	planes := aircraft.NewClient(source, baseURL, obs.Latitude, obs.Longitude, cfg.PlaneSearchBoxDeg, utils.Component("aircraft"))
	planes.Username, planes.Password = cfg.OpenSkyUsername, cfg.OpenSkyPassword

	hz := horizon.NewClient(cfg.APIs.Horizon, cfg.PanoramaID, cfg.PanoramaResolution, cfg.Cache.HorizonFile, utils.Component("horizon"))
	g := geo.NewClient(cfg.APIs.WorldGeoJSON, cfg.APIs.USAGeoJSON, cfg.Cache.GeoFile, utils.Component("geo"))

	resolver := position.NewResolver(position.NewObserver(obs.Latitude, obs.Longitude, obs.AltitudeM))
	engine := visibility.New(resolver, nil, utils.Component("math"))

	sched := scheduler.New(scheduler.Deps{
		Elements: elements,
		Aircraft: planes,
		Horizon:  hz,
		Geo:      g,
		Store:    db,
		Engine:   engine,
		State:    st,
	}, cfg.Timing, cfg.Retention(), utils.Component("scheduler"))

	return &app{cfg: cfg, db: db, state: st, geo: g, sched: sched}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
