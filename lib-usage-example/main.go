package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/horizon"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/position"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/tle"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

func main() {
	// Usage: go run *.go -tle data/celestrak_cache.txt -horizon data/OVRO_horizon.csv

	tleFlag := flag.String("tle", "", "TLE file (2-line or 3-line records)")
	horizonFlag := flag.String("horizon", "", "HeyWhatsThat horizon CSV (optional)")
	latFlag := flag.Float64("lat", 37.2317, "Observer latitude in degrees")
	lonFlag := flag.Float64("lon", -118.2951, "Observer longitude in degrees")
	altFlag := flag.Float64("alt", 1222, "Observer height in meters")

	// Parse the command-line flags
	flag.Parse()

	if *tleFlag == "" {
		fmt.Println("A TLE file is required. Please provide it using -tle flag.")
		return
	}

	data, err := os.ReadFile(*tleFlag)
	if err != nil {
		fmt.Println(err)
		return
	}
	elements, err := tle.Parse(data, nil)
	if err != nil {
		fmt.Println(err)
		return
	}

	var mask *horizon.Profile
	if *horizonFlag != "" {
		f, err := os.Open(*horizonFlag)
		if err != nil {
			fmt.Println(err)
			return
		}
		points, err := horizon.ParseCSV(f)
		f.Close()
		if err != nil {
			fmt.Println(err)
			return
		}
		mask = horizon.NewProfile(points)
	}

	// Aircraft work the same way; pass []aircraft.State as the last argument
	resolver := position.NewResolver(position.NewObserver(*latFlag, *lonFlag, *altFlag))
	engine := visibility.New(resolver, mask, nil)

	for _, o := range engine.Compute(time.Now(), elements, nil) {
		fmt.Printf("%-24s %-12s az=%6.2f alt=%6.2f dist=%.0f km\n", o.Name, o.GroupID, o.AzimuthDeg, o.AltitudeDeg, o.DistanceM/1000)
	}
}
