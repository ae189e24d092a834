package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"
)

var (
	// ErrEmptySnapshot is returned when asked to persist zero objects. Nothing is written.
	ErrEmptySnapshot = errors.New("snapshot has no objects")
	ErrNotFound      = errors.New("snapshot not found")
)

const (
	snapshotCacheSize = 64
	snapshotCacheTTL  = 10 * time.Minute
)

type DB struct {
	sql   *sql.DB
	cache *expirable.LRU[int64, Snapshot]
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp     REAL NOT NULL,
  readable_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(timestamp);
CREATE TABLE IF NOT EXISTS objects (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
  name        TEXT NOT NULL,
  type        TEXT NOT NULL CHECK (type IN ('satellite','aircraft')),
  group_id    TEXT,
  az_deg      REAL NOT NULL,
  alt_deg     REAL NOT NULL,
  dist_m      REAL NOT NULL,
  x_km        REAL NOT NULL,
  y_km        REAL NOT NULL,
  z_km        REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_objects_snapshot ON objects(snapshot_id);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{
		sql:   db,
		cache: expirable.NewLRU[int64, Snapshot](snapshotCacheSize, nil, snapshotCacheTTL),
	}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// SaveSnapshot writes a snapshot with all its objects and prunes snapshots
// older than retention, all in one transaction. An empty object list is a
// no-op returning ErrEmptySnapshot.
func (d *DB) SaveSnapshot(ctx context.Context, at time.Time, objs []visibility.Object, retention time.Duration) (id int64, err error) {
	if len(objs) == 0 {
		return 0, ErrEmptySnapshot
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO snapshots(timestamp, readable_time) VALUES(?, ?)`, utils.UnixSeconds(at), utils.FormatTimestamp(at))
	if err != nil {
		return 0, err
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO objects(snapshot_id, name, type, group_id, az_deg, alt_deg, dist_m, x_km, y_km, z_km) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, o := range objs {
		if _, err = stmt.ExecContext(ctx, id, o.Name, string(o.Kind), o.GroupID, o.AzimuthDeg, o.AltitudeDeg, o.DistanceM, o.ECEFKm[0], o.ECEFKm[1], o.ECEFKm[2]); err != nil {
			return 0, err
		}
	}

	var pruned int64
	if retention > 0 {
		cutoff := utils.UnixSeconds(at.Add(-retention))
		res, err = tx.ExecContext(ctx, `DELETE FROM snapshots WHERE timestamp < ?`, cutoff)
		if err != nil {
			return 0, err
		}
		pruned, _ = res.RowsAffected()
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	if pruned > 0 {
		d.cache.Purge()
	}
	return id, nil
}

// ListSnapshots returns the newest snapshots first with their object counts.
func (d *DB) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT s.id, s.timestamp, s.readable_time, COUNT(o.id)
		FROM snapshots s LEFT JOIN objects o ON o.snapshot_id = s.id
		GROUP BY s.id
		ORDER BY s.timestamp DESC, s.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var s Snapshot
		var ts float64
		if err := rows.Scan(&s.ID, &ts, &s.ReadableTime, &s.ObjectCount); err != nil {
			return nil, err
		}
		s.CapturedAt = utils.FromUnixSeconds(ts)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSnapshot returns one snapshot with its objects in insertion order.
func (d *DB) GetSnapshot(ctx context.Context, id int64) (Snapshot, error) {
	if s, ok := d.cache.Get(id); ok {
		// Another process sharing the file may have pruned it.
		var one int
		err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			d.cache.Remove(id)
			return Snapshot{}, ErrNotFound
		}
		if err != nil {
			return Snapshot{}, err
		}
		return s, nil
	}

	var s Snapshot
	var ts float64
	err := d.sql.QueryRowContext(ctx, `SELECT id, timestamp, readable_time FROM snapshots WHERE id = ?`, id).Scan(&s.ID, &ts, &s.ReadableTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	s.CapturedAt = utils.FromUnixSeconds(ts)

	rows, err := d.sql.QueryContext(ctx, `SELECT name, type, group_id, az_deg, alt_deg, dist_m, x_km, y_km, z_km FROM objects WHERE snapshot_id = ? ORDER BY id`, id)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()

	s.Objects = []visibility.Object{}
	for rows.Next() {
		var o visibility.Object
		var kind string
		var group sql.NullString
		if err := rows.Scan(&o.Name, &kind, &group, &o.AzimuthDeg, &o.AltitudeDeg, &o.DistanceM, &o.ECEFKm[0], &o.ECEFKm[1], &o.ECEFKm[2]); err != nil {
			return Snapshot{}, err
		}
		o.Kind = visibility.Kind(kind)
		o.GroupID = group.String
		s.Objects = append(s.Objects, o)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	s.ObjectCount = len(s.Objects)

	d.cache.Add(id, s)
	return s, nil
}

// LatestSnapshot returns the most recent snapshot with its objects.
func (d *DB) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var id int64
	err := d.sql.QueryRowContext(ctx, `SELECT id FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return d.GetSnapshot(ctx, id)
}

func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	st := Stats{ByKind: map[visibility.Kind]int{}}

	var oldest, newest sql.NullFloat64
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM snapshots`).Scan(&st.Snapshots, &oldest, &newest)
	if err != nil {
		return st, err
	}
	if oldest.Valid {
		st.Oldest = utils.FromUnixSeconds(oldest.Float64)
	}
	if newest.Valid {
		st.Newest = utils.FromUnixSeconds(newest.Float64)
	}

	rows, err := d.sql.QueryContext(ctx, `SELECT type, COUNT(*) FROM objects GROUP BY type ORDER BY type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return st, err
		}
		st.ByKind[visibility.Kind(kind)] = n
		st.Objects += n
	}
	return st, rows.Err()
}
