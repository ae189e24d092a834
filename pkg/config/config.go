// Package config maps the YAML configuration file onto typed settings.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Observatory is the fixed observer location.
type Observatory struct {
	Name      string
	Latitude  float64
	Longitude float64
	AltitudeM float64
}

// Timing holds every periodic interval the scheduler uses.
type Timing struct {
	TLEFetchInterval      time.Duration
	PlaneFetchInterval    time.Duration
	SnapshotInterval      time.Duration
	ForceSnapshotCooldown time.Duration
}

// Cache holds on-disk cache locations.
type Cache struct {
	TLEFile     string
	HorizonFile string
	GeoFile     string
	StateFile   string
	LockDir     string
}

// APIs holds upstream endpoints.
type APIs struct {
	CelestrakTLE   string
	McCantsClassfd string
	AirplanesLive  string
	OpenSky        string
	Horizon        string
	WorldGeoJSON   string
	USAGeoJSON     string
	AircraftSource string
}

type Config struct {
	DBName        string
	RetentionDays int

	Cache       Cache
	Timing      Timing
	Observatory Observatory
	APIs        APIs

	PanoramaID         string
	PanoramaResolution string
	PlaneSearchBoxDeg  float64

	OpenSkyUsername string
	OpenSkyPassword string

	ListenAddr string
	TokenFile  string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.name", "data/casm_rfi_sky.db")
	v.SetDefault("database.retention_days", 7)

	v.SetDefault("cache.tle_file", "data/celestrak_cache.txt")
	v.SetDefault("cache.horizon_file", "")
	v.SetDefault("cache.geo_file", "data/geo_cache.msgpack.zst")
	v.SetDefault("cache.state_file", "data/scheduler_state.json")
	v.SetDefault("cache.lock_dir", "data")

	v.SetDefault("timing.tle_fetch_interval", 7200)
	v.SetDefault("timing.plane_fetch_interval", 1)
	v.SetDefault("timing.db_snapshot_interval", 1800)
	v.SetDefault("timing.force_snapshot_cooldown", 30)

	v.SetDefault("observatory.name", "OVRO")
	v.SetDefault("observatory.latitude", 37.2317)
	v.SetDefault("observatory.longitude", -118.2951)
	v.SetDefault("observatory.altitude_m", 1222)

	v.SetDefault("panorama.id", "BTV9VXUH")
	v.SetDefault("panorama.resolution", "0.1")
	v.SetDefault("visualization.plane_search_box_deg", 4.0)

	v.SetDefault("apis.celestrak_tle", "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle")
	v.SetDefault("apis.mccants_classfd", "https://www.prismnet.com/~mmccants/tles/classfd.zip")
	v.SetDefault("apis.airplanes_live", "https://api.airplanes.live/v2")
	v.SetDefault("apis.opensky", "https://opensky-network.org/api")
	v.SetDefault("apis.horizon", "https://www.heywhatsthat.com/api/horizon.csv")
	v.SetDefault("apis.world_geojson", "https://raw.githubusercontent.com/johan/world.geo.json/master/countries.geo.json")
	v.SetDefault("apis.usa_geojson", "https://raw.githubusercontent.com/PublicaMundi/MappingAPI/master/data/geojson/us-states.json")
	v.SetDefault("apis.aircraft_source", "airplanes_live")

	v.SetDefault("opensky.username", "")
	v.SetDefault("opensky.password", "")

	v.SetDefault("server.listen", "127.0.0.1:5000")
	v.SetDefault("server.token_file", "data/.api_token")
}

// Load reads a validated Config out of v. Defaults must already be registered.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		DBName:        v.GetString("database.name"),
		RetentionDays: v.GetInt("database.retention_days"),
		Cache: Cache{
			TLEFile:     v.GetString("cache.tle_file"),
			HorizonFile: v.GetString("cache.horizon_file"),
			GeoFile:     v.GetString("cache.geo_file"),
			StateFile:   v.GetString("cache.state_file"),
			LockDir:     v.GetString("cache.lock_dir"),
		},
		Timing: Timing{
			TLEFetchInterval:      seconds(v, "timing.tle_fetch_interval"),
			PlaneFetchInterval:    seconds(v, "timing.plane_fetch_interval"),
			SnapshotInterval:      seconds(v, "timing.db_snapshot_interval"),
			ForceSnapshotCooldown: seconds(v, "timing.force_snapshot_cooldown"),
		},
		Observatory: Observatory{
			Name:      v.GetString("observatory.name"),
			Latitude:  v.GetFloat64("observatory.latitude"),
			Longitude: v.GetFloat64("observatory.longitude"),
			AltitudeM: v.GetFloat64("observatory.altitude_m"),
		},
		APIs: APIs{
			CelestrakTLE:   v.GetString("apis.celestrak_tle"),
			McCantsClassfd: v.GetString("apis.mccants_classfd"),
			AirplanesLive:  v.GetString("apis.airplanes_live"),
			OpenSky:        v.GetString("apis.opensky"),
			Horizon:        v.GetString("apis.horizon"),
			WorldGeoJSON:   v.GetString("apis.world_geojson"),
			USAGeoJSON:     v.GetString("apis.usa_geojson"),
			AircraftSource: v.GetString("apis.aircraft_source"),
		},
		PanoramaID:         v.GetString("panorama.id"),
		PanoramaResolution: v.GetString("panorama.resolution"),
		PlaneSearchBoxDeg:  v.GetFloat64("visualization.plane_search_box_deg"),
		OpenSkyUsername:    v.GetString("opensky.username"),
		OpenSkyPassword:    v.GetString("opensky.password"),
		ListenAddr:         v.GetString("server.listen"),
		TokenFile:          v.GetString("server.token_file"),
	}

	if cfg.Cache.HorizonFile == "" {
		cfg.Cache.HorizonFile = filepath.Join("data", cfg.Observatory.Name+"_horizon.csv")
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Observatory.Latitude < -90 || c.Observatory.Latitude > 90 {
		return fmt.Errorf("observatory.latitude %v out of range [-90, 90]", c.Observatory.Latitude)
	}
	if c.Observatory.Longitude < -180 || c.Observatory.Longitude > 180 {
		return fmt.Errorf("observatory.longitude %v out of range [-180, 180]", c.Observatory.Longitude)
	}
	if c.Timing.TLEFetchInterval <= 0 {
		return fmt.Errorf("timing.tle_fetch_interval must be positive")
	}
	if c.Timing.SnapshotInterval <= 0 {
		return fmt.Errorf("timing.db_snapshot_interval must be positive")
	}
	if c.Timing.PlaneFetchInterval < 0 || c.Timing.ForceSnapshotCooldown < 0 {
		return fmt.Errorf("timing intervals must not be negative")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("database.retention_days must be positive")
	}
	switch c.APIs.AircraftSource {
	case "airplanes_live", "opensky":
	default:
		return fmt.Errorf("apis.aircraft_source %q: want airplanes_live or opensky", c.APIs.AircraftSource)
	}
	return nil
}

// Retention is the snapshot retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}
