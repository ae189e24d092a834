// Package tle parses two-line element sets, derives constellation group ids
// and fetches the CelesTrak and McCants catalogs.
package tle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

var ErrInvalidTLE = errors.New("invalid TLE")

// Element is one propagatable satellite.
type Element struct {
	Name    string
	GroupID string
	NORADID int
	Line1   string
	Line2   string

	sat satellite.Satellite
}

// NewElement validates the two lines and initializes the SGP4 model.
func NewElement(name, line1, line2 string) (Element, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")

	if err := validateLines(line1, line2); err != nil {
		return Element{}, fmt.Errorf("%w: %s: %v", ErrInvalidTLE, name, err)
	}

	norad, _ := strconv.Atoi(strings.TrimSpace(line1[2:7]))

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return Element{}, fmt.Errorf("%w: %s: sgp4 init code=%d %s", ErrInvalidTLE, name, sat.Error, sat.ErrorStr)
	}

	return Element{
		Name:    name,
		GroupID: GroupID(name),
		NORADID: norad,
		Line1:   line1,
		Line2:   line2,
		sat:     sat,
	}, nil
}

// Propagate returns the TEME position in km at t. Any panic from the SGP4
// model is turned into an error so one bad element never takes down a batch.
func (e Element) Propagate(t time.Time) (x, y, z float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sgp4 panic for %s: %v", e.Name, r)
		}
	}()

	t = t.UTC()
	pos, _ := satellite.Propagate(e.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return 0, 0, 0, fmt.Errorf("sgp4 propagation failed for %s: output is NaN/Inf", e.Name)
	}

	// Anything outside 6200..50000 km has decayed or diverged.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return 0, 0, 0, fmt.Errorf("sgp4 propagation failed for %s: unreasonable position magnitude %.1f km", e.Name, mag)
	}
	return pos.X, pos.Y, pos.Z, nil
}

// GroupID derives the constellation key from a display name. Individually
// designated "USA <n>" objects are their own group; otherwise the text before
// the first dash, or else the first space-separated word.
func GroupID(name string) string {
	fields := strings.Fields(name)
	if strings.HasPrefix(name, "USA ") && len(fields) >= 2 && isDigits(fields[1]) {
		return name
	}
	if i := strings.Index(name, "-"); i >= 0 {
		return name[:i]
	}
	if i := strings.Index(name, " "); i >= 0 {
		return name[:i]
	}
	return name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// validateLines checks the fixed columns go-satellite parses. The library
// calls log.Fatal on anything it cannot parse, so junk must never reach it.
func validateLines(line1, line2 string) error {
	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}

	if _, err := strconv.Atoi(strings.TrimSpace(line1[2:7])); err != nil {
		return fmt.Errorf("catalog number %q", line1[2:7])
	}
	if _, err := strconv.Atoi(strings.TrimSpace(line1[18:20])); err != nil {
		return fmt.Errorf("epoch year %q", line1[18:20])
	}

	floats := []struct {
		field string
		value string
	}{
		{"epoch day", line1[20:32]},
		{"ndot", line1[33:43]},
		{"nddot", line1[44:45] + "." + line1[45:50] + "e" + line1[50:52]},
		{"bstar", line1[53:54] + "." + line1[54:59] + "e" + line1[59:61]},
		{"inclination", line2[8:16]},
		{"raan", line2[17:25]},
		{"eccentricity", "." + line2[26:33]},
		{"arg of perigee", line2[34:42]},
		{"mean anomaly", line2[43:51]},
		{"mean motion", line2[52:63]},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(strings.ReplaceAll(f.value, " ", ""), 64); err != nil {
			return fmt.Errorf("%s %q", f.field, f.value)
		}
	}
	return nil
}
