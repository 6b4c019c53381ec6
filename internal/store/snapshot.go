package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/station"
)

// SnapshotStore persists completed scans (stations plus their laid-out
// coordinates) to SQLite so a map can be reloaded or re-exported
// without rescanning.
type SnapshotStore struct {
	db *sql.DB
}

// SnapshotInfo is one saved scan.
type SnapshotInfo struct {
	ID       int64
	Root     string
	Stations int
	SavedAt  time.Time
}

func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			root TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS stations (
			snapshot_id INTEGER NOT NULL REFERENCES snapshots(id),
			path TEXT NOT NULL,
			parent TEXT NOT NULL,
			depth INTEGER NOT NULL,
			kind TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			aggregated INTEGER NOT NULL,
			members TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot tables: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error { return s.db.Close() }

// Save writes one snapshot in a single transaction and returns its id.
func (s *SnapshotStore) Save(root string, stations []*station.Station) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec("INSERT INTO snapshots (root, saved_at) VALUES (?, ?)", root, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO stations
		(snapshot_id, path, parent, depth, kind, x, y, aggregated, members)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare station insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, st := range stations {
		members, err := oj.Marshal(st.Members)
		if err != nil {
			return 0, fmt.Errorf("encode members for %s: %w", st.Path, err)
		}
		aggregated := 0
		if st.Aggregated {
			aggregated = 1
		}
		if _, err := stmt.Exec(id, st.Path, st.ParentPath, st.Depth, string(st.Kind), st.X, st.Y, aggregated, string(members)); err != nil {
			return 0, fmt.Errorf("insert station %s: %w", st.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return id, nil
}

// Load reads one snapshot back.
func (s *SnapshotStore) Load(id int64) (string, []*station.Station, error) {
	var root string
	err := s.db.QueryRow("SELECT root FROM snapshots WHERE id = ?", id).Scan(&root)
	if err != nil {
		return "", nil, fmt.Errorf("snapshot %d: %w", id, err)
	}

	rows, err := s.db.Query(`SELECT path, parent, depth, kind, x, y, aggregated, members
		FROM stations WHERE snapshot_id = ? ORDER BY path`, id)
	if err != nil {
		return "", nil, fmt.Errorf("load stations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stations []*station.Station
	for rows.Next() {
		var st station.Station
		var kind, members string
		var aggregated int
		if err := rows.Scan(&st.Path, &st.ParentPath, &st.Depth, &kind, &st.X, &st.Y, &aggregated, &members); err != nil {
			return "", nil, fmt.Errorf("scan station row: %w", err)
		}
		st.Kind = api.NodeKind(kind)
		st.Aggregated = aggregated != 0
		if err := oj.Unmarshal([]byte(members), &st.Members); err != nil {
			return "", nil, fmt.Errorf("decode members for %s: %w", st.Path, err)
		}
		stations = append(stations, &st)
	}
	return root, stations, rows.Err()
}

// List returns every saved snapshot, newest first.
func (s *SnapshotStore) List() ([]SnapshotInfo, error) {
	rows, err := s.db.Query(`SELECT s.id, s.root, s.saved_at, COUNT(st.path)
		FROM snapshots s LEFT JOIN stations st ON st.snapshot_id = s.id
		GROUP BY s.id ORDER BY s.saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var savedAt int64
		if err := rows.Scan(&info.ID, &info.Root, &savedAt, &info.Stations); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		info.SavedAt = time.Unix(savedAt, 0)
		out = append(out, info)
	}
	return out, rows.Err()
}
