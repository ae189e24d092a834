package storage

import (
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
)

// Snapshot is one persisted visibility computation. Objects is only filled
// by GetSnapshot and LatestSnapshot.
type Snapshot struct {
	ID           int64
	CapturedAt   time.Time
	ReadableTime string
	ObjectCount  int
	Objects      []visibility.Object
}

// Stats summarizes the snapshot history.
type Stats struct {
	Snapshots int
	Objects   int
	Oldest    time.Time
	Newest    time.Time
	ByKind    map[visibility.Kind]int
}
