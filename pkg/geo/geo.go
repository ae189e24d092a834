// Package geo turns world and US state outlines into 3D points on a sphere
// for the dashboard globe and caches them on disk.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/whttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

// EarthRadiusKm is the sphere the outlines are projected onto.
const EarthRadiusKm = 6371.0

// Ring is one closed outline as xyz km points.
type Ring [][3]float64

// Overlay is everything the globe draws.
type Overlay struct {
	World []Ring `msgpack:"world"`
	USA   []Ring `msgpack:"usa"`
}

// Columns is the plotting layout: parallel coordinate arrays with a nil
// between consecutive rings.
type Columns struct {
	X []*float64 `json:"x"`
	Y []*float64 `json:"y"`
	Z []*float64 `json:"z"`
}

// ToColumns flattens rings into Columns.
func ToColumns(rings []Ring) Columns {
	c := Columns{X: []*float64{}, Y: []*float64{}, Z: []*float64{}}
	for _, r := range rings {
		for _, p := range r {
			x, y, z := p[0], p[1], p[2]
			c.X = append(c.X, &x)
			c.Y = append(c.Y, &y)
			c.Z = append(c.Z, &z)
		}
		c.X = append(c.X, nil)
		c.Y = append(c.Y, nil)
		c.Z = append(c.Z, nil)
	}
	return c
}

// LatLonToXYZ projects a lat/lon in degrees onto the sphere.
func LatLonToXYZ(latDeg, lonDeg float64) [3]float64 {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	return [3]float64{
		EarthRadiusKm * math.Cos(lat) * math.Cos(lon),
		EarthRadiusKm * math.Cos(lat) * math.Sin(lon),
		EarthRadiusKm * math.Sin(lat),
	}
}

// ParseGeoJSON extracts every Polygon and MultiPolygon ring of a
// FeatureCollection. Other geometry types are ignored.
func ParseGeoJSON(body []byte) ([]Ring, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("malformed GeoJSON")
	}

	rings := []Ring{}
	gjson.GetBytes(body, "features").ForEach(func(_, feature gjson.Result) bool {
		geom := feature.Get("geometry")
		var polys []gjson.Result
		switch geom.Get("type").String() {
		case "Polygon":
			polys = []gjson.Result{geom.Get("coordinates")}
		case "MultiPolygon":
			polys = geom.Get("coordinates").Array()
		default:
			return true
		}
		for _, poly := range polys {
			for _, loop := range poly.Array() {
				var ring Ring
				for _, pt := range loop.Array() {
					c := pt.Array()
					if len(c) < 2 {
						continue
					}
					ring = append(ring, LatLonToXYZ(c[1].Float(), c[0].Float()))
				}
				if len(ring) > 0 {
					rings = append(rings, ring)
				}
			}
		}
		return true
	})
	return rings, nil
}

// Client builds the overlay once and keeps it as zstd-compressed msgpack.
type Client struct {
	WorldURL  string
	USAURL    string
	CacheFile string

	HTTP   *retryablehttp.Client
	Logger fetch.Logger
}

func NewClient(worldURL, usaURL, cacheFile string, logger fetch.Logger) *Client {
	return &Client{
		WorldURL:  worldURL,
		USAURL:    usaURL,
		CacheFile: cacheFile,
		HTTP:      whttp.NewClient(2, 30*time.Second),
		Logger:    fetch.OrNop(logger),
	}
}

// Ensure builds the cache file if it does not exist yet. A layer that fails
// to download is cached empty, matching how the dashboard degrades.
func (c *Client) Ensure(ctx context.Context) error {
	if _, err := os.Stat(c.CacheFile); err == nil {
		return nil
	}

	c.Logger.Infof("Downloading geospatial data")
	ov := Overlay{
		World: c.layer(ctx, c.WorldURL),
		USA:   c.layer(ctx, c.USAURL),
	}
	if err := Store(c.CacheFile, ov); err != nil {
		return fmt.Errorf("caching geo overlay: %w", err)
	}
	c.Logger.Infof("Geospatial data cached (%d world rings, %d usa rings)", len(ov.World), len(ov.USA))
	return nil
}

// Load reads the cached overlay.
func (c *Client) Load() (Overlay, error) {
	return Retrieve(c.CacheFile)
}

func (c *Client) layer(ctx context.Context, url string) []Ring {
	if url == "" {
		return []Ring{}
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: url}, c.HTTP)
	if err != nil {
		c.Logger.Warnf("Geo fetch error for %s: %v", url, err)
		return []Ring{}
	}
	if res.StatusCode != 200 {
		c.Logger.Warnf("Geo fetch for %s: status %d", url, res.StatusCode)
		return []Ring{}
	}
	rings, err := ParseGeoJSON(res.Body)
	if err != nil {
		c.Logger.Warnf("Geo parse error for %s: %v", url, err)
		return []Ring{}
	}
	return rings
}

// Store writes ov to path as zstd-compressed msgpack.
func Store(path string, ov Overlay) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return err
	}
	if err := msgpack.NewEncoder(zw).Encode(ov); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Retrieve reads an overlay written by Store.
func Retrieve(path string) (Overlay, error) {
	f, err := os.Open(path)
	if err != nil {
		return Overlay{}, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return Overlay{}, err
	}
	defer zr.Close()

	var ov Overlay
	if err := msgpack.NewDecoder(zr).Decode(&ov); err != nil {
		return Overlay{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return ov, nil
}
