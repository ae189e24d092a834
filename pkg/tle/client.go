package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/whttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"
)

// classifiedEntry is the member of the McCants archive holding the TLEs.
const classifiedEntry = "classfd.tle"

// Client fetches the active-satellite catalog plus classified objects and
// keeps the combined text in a cache file.
type Client struct {
	CelestrakURL  string
	McCantsURL    string
	CacheFile     string
	FetchInterval time.Duration

	HTTP   *retryablehttp.Client
	Logger fetch.Logger
	Now    func() time.Time
}

func NewClient(celestrakURL, mccantsURL, cacheFile string, interval time.Duration, logger fetch.Logger) *Client {
	return &Client{
		CelestrakURL:  celestrakURL,
		McCantsURL:    mccantsURL,
		CacheFile:     cacheFile,
		FetchInterval: interval,
		HTTP:          whttp.NewClient(2, 45*time.Second),
		Logger:        fetch.OrNop(logger),
		Now:           time.Now,
	}
}

// Fetch returns the current element set. A cache file younger than the fetch
// interval is used without touching the network; otherwise the catalog is
// downloaded and, on any upstream failure, the stale cache is parsed instead.
func (c *Client) Fetch(ctx context.Context) fetch.Result[[]Element] {
	cached, modTime, cacheErr := c.readCache()
	if cacheErr == nil {
		age := c.Now().Sub(modTime)
		if age < c.FetchInterval {
			c.Logger.Infof("Using local TLE file (%d mins old)", int(age.Minutes()))
			return c.parse(cached, fetch.Cached)
		}
		c.Logger.Infof("TLE file is old (%dh), attempting refresh", int(age.Hours()))
	}

	data, err := c.download(ctx)
	if err != nil {
		if cacheErr != nil {
			c.Logger.Warnf("TLE fetch failed and no cache available: %v", err)
			return fetch.Result[[]Element]{Outcome: fetch.Transient, Err: err}
		}
		c.Logger.Warnf("TLE fetch failed, using cache: %v", err)
		r := c.parse(cached, fetch.Cached)
		if r.Outcome == fetch.Empty {
			r.Outcome, r.Err = fetch.Transient, err
		}
		return r
	}

	r := c.parse(data, fetch.Fresh)
	if r.Outcome == fetch.Fresh {
		if err := c.writeCache(data); err != nil {
			c.Logger.Warnf("Writing TLE cache: %v", err)
		}
	}
	return r
}

// LoadCache parses the cache file regardless of its age.
func (c *Client) LoadCache() fetch.Result[[]Element] {
	data, _, err := c.readCache()
	if err != nil {
		return fetch.Result[[]Element]{Outcome: fetch.Transient, Err: err}
	}
	return c.parse(data, fetch.Cached)
}

func (c *Client) parse(data []byte, outcome fetch.Outcome) fetch.Result[[]Element] {
	elements, err := Parse(data, c.Logger)
	if err != nil {
		return fetch.Result[[]Element]{Outcome: fetch.Transient, Err: err}
	}
	if len(elements) == 0 {
		return fetch.Result[[]Element]{Outcome: fetch.Empty}
	}
	c.Logger.Infof("Loaded %d satellite objects", len(elements))
	return fetch.Result[[]Element]{Value: elements, Outcome: outcome}
}

// download pulls CelesTrak and McCants concurrently. Only a CelesTrak failure
// fails the download; classified objects are appended when available.
func (c *Client) download(ctx context.Context) ([]byte, error) {
	var (
		g          errgroup.Group
		celestrak  []byte
		classified []byte
	)

	g.Go(func() error {
		c.Logger.Infof("Fetching fresh TLEs from CelesTrak")
		res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: c.CelestrakURL}, c.HTTP)
		if err != nil {
			return fmt.Errorf("celestrak: %w", err)
		}
		if res.StatusCode != 200 {
			return fmt.Errorf("celestrak: status %d", res.StatusCode)
		}
		celestrak = bytes.TrimSpace(res.Body)
		return nil
	})

	if c.McCantsURL != "" {
		g.Go(func() error {
			data, err := c.downloadClassified(ctx)
			if err != nil {
				c.Logger.Warnf("McCants fetch failed (continuing): %v", err)
				return nil
			}
			classified = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(classified) > 0 {
		celestrak = append(celestrak, '\n')
		celestrak = append(celestrak, classified...)
	}
	return celestrak, nil
}

func (c *Client) downloadClassified(ctx context.Context) ([]byte, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: c.McCantsURL}, c.HTTP)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != 200 {
		return nil, fmt.Errorf("status %d", res.StatusCode)
	}

	zr, err := zip.NewReader(bytes.NewReader(res.Body), int64(len(res.Body)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	for _, zf := range zr.File {
		if zf.Name != classifiedEntry {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return bytes.TrimSpace(data), nil
	}
	return nil, fmt.Errorf("archive has no %s", classifiedEntry)
}

func (c *Client) readCache() ([]byte, time.Time, error) {
	st, err := os.Stat(c.CacheFile)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(c.CacheFile)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, st.ModTime(), nil
}

func (c *Client) writeCache(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.CacheFile), 0755); err != nil {
		return err
	}
	tmp := c.CacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.CacheFile); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return nil
}
