package horizon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/whttp"
	"github.com/hashicorp/go-retryablehttp"
)

// ParseCSV reads a HeyWhatsThat horizon export. The header row is skipped and
// columns 1, 2 and 3 hold azimuth, altitude and distance in meters. Rows that
// are short or do not parse are skipped.
func ParseCSV(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading horizon header: %w", err)
	}

	var points []Point
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return points, err
		}
		if len(row) < 4 {
			continue
		}
		az, err1 := strconv.ParseFloat(row[1], 64)
		alt, err2 := strconv.ParseFloat(row[2], 64)
		dist, err3 := strconv.ParseFloat(row[3], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		points = append(points, Point{AzimuthDeg: az, AltitudeDeg: alt, DistanceM: dist})
	}
	return points, nil
}

// Client downloads the horizon profile once and serves it from a cache file.
type Client struct {
	BaseURL    string
	PanoramaID string
	Resolution string
	CacheFile  string

	HTTP   *retryablehttp.Client
	Logger fetch.Logger
}

func NewClient(baseURL, panoramaID, resolution, cacheFile string, logger fetch.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		PanoramaID: panoramaID,
		Resolution: resolution,
		CacheFile:  cacheFile,
		HTTP:       whttp.NewClient(2, 30*time.Second),
		Logger:     fetch.OrNop(logger),
	}
}

// Load returns the horizon samples, downloading them first if the cache file
// is missing. A failed download or unreadable cache yields a Transient result
// with no points; callers then fall back to Flat().
func (c *Client) Load(ctx context.Context) fetch.Result[[]Point] {
	outcome := fetch.Cached
	if _, err := os.Stat(c.CacheFile); errors.Is(err, os.ErrNotExist) {
		if err := c.download(ctx); err != nil {
			c.Logger.Warnf("Horizon download failed: %v", err)
			return fetch.Result[[]Point]{Outcome: fetch.Transient, Err: err}
		}
		outcome = fetch.Fresh
	}

	f, err := os.Open(c.CacheFile)
	if err != nil {
		c.Logger.Warnf("Horizon cache unreadable: %v", err)
		return fetch.Result[[]Point]{Outcome: fetch.Transient, Err: err}
	}
	defer f.Close()

	points, err := ParseCSV(f)
	if err != nil {
		c.Logger.Warnf("Horizon parse error: %v", err)
		return fetch.Result[[]Point]{Outcome: fetch.Transient, Err: err}
	}
	if len(points) == 0 {
		return fetch.Result[[]Point]{Outcome: fetch.Empty}
	}
	c.Logger.Infof("Loaded %d horizon points", len(points))
	return fetch.Result[[]Point]{Value: points, Outcome: outcome}
}

func (c *Client) download(ctx context.Context) error {
	q := url.Values{}
	q.Set("id", c.PanoramaID)
	q.Set("resolution", c.Resolution)

	c.Logger.Infof("Downloading horizon profile %s", c.PanoramaID)
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: c.BaseURL + "?" + q.Encode()}, c.HTTP)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("horizon download: status %d", res.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(c.CacheFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(c.CacheFile, res.Body, 0644)
}
