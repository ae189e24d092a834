// Package aircraft fetches live aircraft positions around the observatory
// and tracks upstream rate-limit cooldowns.
package aircraft

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/fetch"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/whttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

type Source string

const (
	AirplanesLive Source = "airplanes_live"
	OpenSky       Source = "opensky"
)

const (
	feetToMeters = 0.3048
	// airplanes.live caps the point query radius.
	maxRadiusNM = 250

	defaultCooldown = 300 * time.Second
	cooldownPadding = 5 * time.Second
)

// State is one aircraft report. AltM is meters above the ellipsoid.
type State struct {
	Name   string
	LatDeg float64
	LonDeg float64
	AltM   float64
}

type Client struct {
	Source   Source
	BaseURL  string
	Username string
	Password string

	// Search box center and half-width in degrees.
	LatDeg float64
	LonDeg float64
	BoxDeg float64

	HTTP   *retryablehttp.Client
	Logger fetch.Logger
	Now    func() time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
}

func NewClient(source Source, baseURL string, lat, lon, boxDeg float64, logger fetch.Logger) *Client {
	return &Client{
		Source:  source,
		BaseURL: strings.TrimRight(baseURL, "/"),
		LatDeg:  lat,
		LonDeg:  lon,
		BoxDeg:  boxDeg,
		HTTP:    whttp.NewClient(1, 10*time.Second),
		Logger:  fetch.OrNop(logger),
		Now:     time.Now,
	}
}

// CooldownUntil is the end of the current rate-limit cooldown, or the zero
// time when the source is not limited.
func (c *Client) CooldownUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cooldownUntil.After(c.Now()) {
		return time.Time{}
	}
	return c.cooldownUntil
}

// SetCooldownUntil adopts a cooldown learned elsewhere, e.g. by another
// process. An earlier deadline never shortens the current one.
func (c *Client) SetCooldownUntil(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.cooldownUntil) {
		c.cooldownUntil = t
	}
}

// Fetch returns every aircraft inside the search box. While a cooldown is
// active it returns RateLimited without a network call.
func (c *Client) Fetch(ctx context.Context) fetch.Result[[]State] {
	if until := c.CooldownUntil(); !until.IsZero() {
		c.Logger.Debugf("Aircraft cooldown active, resuming in %ds", int(until.Sub(c.Now()).Seconds()))
		return fetch.Result[[]State]{Outcome: fetch.RateLimited, RetryAt: until}
	}

	req := c.request()
	res, err := whttp.SendHTTPRequest(ctx, req, c.HTTP)
	if err != nil {
		c.Logger.Warnf("Aircraft request error: %v", err)
		return fetch.Result[[]State]{Outcome: fetch.Transient, Err: err}
	}

	switch res.StatusCode {
	case 200:
	case 429:
		wait := defaultCooldown
		for _, h := range []string{"X-Rate-Limit-Retry-After-Seconds", "Retry-After"} {
			if secs, err := strconv.Atoi(strings.TrimSpace(res.Header.Get(h))); err == nil && secs >= 0 {
				wait = time.Duration(secs)*time.Second + cooldownPadding
				break
			}
		}
		until := c.Now().Add(wait)
		c.SetCooldownUntil(until)
		c.Logger.Warnf("Aircraft source %s rate limited (429), waiting %ds", c.Source, int(wait.Seconds()))
		return fetch.Result[[]State]{Outcome: fetch.RateLimited, RetryAt: until}
	default:
		body := string(res.Body)
		if len(body) > 50 {
			body = body[:50]
		}
		err := fmt.Errorf("aircraft source %s: status %d: %s", c.Source, res.StatusCode, body)
		c.Logger.Warnf("%v", err)
		return fetch.Result[[]State]{Outcome: fetch.Transient, Err: err}
	}

	if !gjson.ValidBytes(res.Body) {
		err := fmt.Errorf("aircraft source %s: malformed JSON", c.Source)
		c.Logger.Warnf("%v", err)
		return fetch.Result[[]State]{Outcome: fetch.Transient, Err: err}
	}

	var states []State
	if c.Source == OpenSky {
		states = ParseOpenSky(res.Body)
	} else {
		states = ParseAirplanesLive(res.Body)
	}

	if len(states) == 0 {
		c.Logger.Infof("Aircraft: no aircraft in range")
		return fetch.Result[[]State]{Value: []State{}, Outcome: fetch.Empty}
	}
	c.Logger.Infof("Aircraft: %d aircraft found", len(states))
	return fetch.Result[[]State]{Value: states, Outcome: fetch.Fresh}
}

func (c *Client) request() *whttp.WHTTPReq {
	if c.Source == OpenSky {
		q := url.Values{}
		q.Set("lamin", strconv.FormatFloat(c.LatDeg-c.BoxDeg, 'f', -1, 64))
		q.Set("lomin", strconv.FormatFloat(c.LonDeg-c.BoxDeg, 'f', -1, 64))
		q.Set("lamax", strconv.FormatFloat(c.LatDeg+c.BoxDeg, 'f', -1, 64))
		q.Set("lomax", strconv.FormatFloat(c.LonDeg+c.BoxDeg, 'f', -1, 64))
		req := &whttp.WHTTPReq{URL: c.BaseURL + "/states/all?" + q.Encode()}
		if c.Username != "" && c.Password != "" {
			req.Username, req.Password = c.Username, c.Password
		}
		return req
	}

	// One degree of latitude is 60 nautical miles.
	radius := int(math.Ceil(c.BoxDeg * 60))
	if radius > maxRadiusNM {
		radius = maxRadiusNM
	}
	return &whttp.WHTTPReq{
		URL: fmt.Sprintf("%s/point/%s/%s/%d", c.BaseURL,
			strconv.FormatFloat(c.LatDeg, 'f', 4, 64),
			strconv.FormatFloat(c.LonDeg, 'f', 4, 64),
			radius),
	}
}

// ParseOpenSky reads the positional "states" arrays of an OpenSky response.
// Index 1 is the callsign, 5/6 are lon/lat, 7 is barometric altitude and 13
// geometric altitude (meters). Records without a position or altitude are dropped.
func ParseOpenSky(body []byte) []State {
	var out []State
	gjson.GetBytes(body, "states").ForEach(func(_, p gjson.Result) bool {
		arr := p.Array()
		if len(arr) < 14 {
			return true
		}
		lon, lat := arr[5], arr[6]
		alt := arr[7]
		if alt.Type == gjson.Null {
			alt = arr[13]
		}
		if lon.Type != gjson.Number || lat.Type != gjson.Number || alt.Type != gjson.Number {
			return true
		}
		name := strings.TrimSpace(arr[1].String())
		if name == "" {
			name = strings.TrimSpace(arr[0].String())
		}
		out = append(out, State{Name: name, LatDeg: lat.Float(), LonDeg: lon.Float(), AltM: alt.Float()})
		return true
	})
	return out
}

// ParseAirplanesLive reads the "ac" objects of an airplanes.live response.
// alt_baro is feet or the string "ground"; alt_geom is the fallback.
func ParseAirplanesLive(body []byte) []State {
	var out []State
	gjson.GetBytes(body, "ac").ForEach(func(_, a gjson.Result) bool {
		lat, lon := a.Get("lat"), a.Get("lon")
		if lat.Type != gjson.Number || lon.Type != gjson.Number {
			return true
		}

		var altM float64
		switch baro, geom := a.Get("alt_baro"), a.Get("alt_geom"); {
		case baro.Type == gjson.Number:
			altM = baro.Float() * feetToMeters
		case geom.Type == gjson.Number:
			altM = geom.Float() * feetToMeters
		case baro.String() == "ground":
			altM = 0
		default:
			return true
		}

		name := strings.TrimSpace(a.Get("flight").String())
		if name == "" {
			name = strings.TrimSpace(a.Get("r").String())
		}
		if name == "" {
			name = strings.TrimSpace(a.Get("hex").String())
		}
		out = append(out, State{Name: name, LatDeg: lat.Float(), LonDeg: lon.Float(), AltM: altM})
		return true
	})
	return out
}
