package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"geochat/pkg/interfaces"
	"geochat/pkg/types"
)

// SQLite implements interfaces.SpatialStore over a local SQLite file. All
// writes are funneled through a single goroutine: SQLite tolerates one
// writer, and the serialization also makes each upsert's created-vs-updated
// determination atomic with the pair write.
type SQLite struct {
	db      *sql.DB
	log     *zap.Logger
	writeCh chan writeOp

	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// writeOp is one queued write. The operation runs on the writer goroutine
// and its error is handed back on result.
type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

const writeTimeout = 30 * time.Second

// Open opens (creating if needed) the store at path and bootstraps the
// schema.
func Open(path string, log *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	s := &SQLite{
		db:       db,
		log:      log,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *SQLite) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.operation(s.db)
		case <-s.shutdown:
			// Run writes that were enqueued before shutdown so no
			// caller stays blocked on its result. Close waits on wg
			// before closing the database, so s.db is still valid.
			for {
				select {
				case op := <-s.writeCh:
					op.result <- op.operation(s.db)
				default:
					return
				}
			}
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (s *SQLite) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeCh <- writeOp{operation: operation, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return fmt.Errorf("store write timeout")
	case <-s.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// Upsert writes the position and profile as one transaction and reports
// whether the identity was newly created.
func (s *SQLite) Upsert(ctx context.Context, id, name string, lat, lon float64) (bool, error) {
	var created bool
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// The identity "exists" if either half of the pair does; a
		// desynced entry still counts as an update so the pair heals.
		var n int
		err = tx.QueryRowContext(ctx,
			`SELECT (SELECT COUNT(*) FROM positions WHERE id = ?) +
			        (SELECT COUNT(*) FROM profiles WHERE id = ?)`, id, id).Scan(&n)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		created = n == 0

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (id, lat, lon) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET lat = excluded.lat, lon = excluded.lon`,
			id, lat, lon); err != nil {
			return fmt.Errorf("write position: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			id, name); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}

		return tx.Commit()
	})
	return created, err
}

// Position returns the stored coordinates for an identity.
func (s *SQLite) Position(ctx context.Context, id string) (float64, float64, bool, error) {
	var lat, lon float64
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lon FROM positions WHERE id = ?`, id).Scan(&lat, &lon)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("query position %s: %w", id, err)
	}
	return lat, lon, true, nil
}

// DisplayName returns the profile display name for an identity.
func (s *SQLite) DisplayName(ctx context.Context, id string) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM profiles WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query profile %s: %w", id, err)
	}
	return name, true, nil
}

// Distance computes the great-circle distance between two members.
func (s *SQLite) Distance(ctx context.Context, a, b, unit string) (float64, bool, error) {
	latA, lonA, okA, err := s.Position(ctx, a)
	if err != nil {
		return 0, false, err
	}
	latB, lonB, okB, err := s.Position(ctx, b)
	if err != nil {
		return 0, false, err
	}
	if !okA || !okB {
		return 0, false, nil
	}

	km := Haversine(latA, lonA, latB, lonB)
	dist, err := ConvertKm(km, unit)
	if err != nil {
		return 0, false, err
	}
	return dist, true, nil
}

// WithinRadius returns all members within radiusKm of the center, ascending
// by distance. The roster is scanned and distances computed in-process;
// membership counts here are small enough that an index structure buys
// nothing over the scan.
func (s *SQLite) WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]types.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lon FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}
	defer rows.Close()

	neighbors := []types.Neighbor{}
	for rows.Next() {
		var id string
		var mLat, mLon float64
		if err := rows.Scan(&id, &mLat, &mLon); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		if d := Haversine(lat, lon, mLat, mLon); d <= radiusKm {
			neighbors = append(neighbors, types.Neighbor{ID: id, DistanceKm: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan positions: %w", err)
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].DistanceKm < neighbors[j].DistanceKm
	})
	return neighbors, nil
}

// WithinRadiusOfMember is WithinRadius centered on an existing member.
func (s *SQLite) WithinRadiusOfMember(ctx context.Context, id string, radiusKm float64) ([]types.Neighbor, error) {
	lat, lon, ok, err := s.Position(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownMember, id)
	}
	return s.WithinRadius(ctx, lat, lon, radiusKm)
}

// Remove deletes the position and profile together and reports whether
// either existed. An entry present in only one table (a desynced pair) is
// still removed and reported as removed.
func (s *SQLite) Remove(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin remove: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		posRes, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		profRes, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}

		posN, _ := posRes.RowsAffected()
		profN, _ := profRes.RowsAffected()
		removed = posN > 0 || profN > 0
		if posN != profN {
			s.log.Warn("position/profile pair was desynchronized",
				zap.String("id", id),
				zap.Int64("positions", posN),
				zap.Int64("profiles", profN))
		}

		return tx.Commit()
	})
	return removed, err
}

// ListAll returns a snapshot of the full membership. A desynced entry
// (present in only one table) is treated as absent.
func (s *SQLite) ListAll(ctx context.Context) ([]types.UserPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, pr.name, p.lat, p.lon
		 FROM positions p JOIN profiles pr ON pr.id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	users := []types.UserPosition{}
	for rows.Next() {
		var u types.UserPosition
		if err := rows.Scan(&u.ID, &u.Name, &u.Latitude, &u.Longitude); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return users, nil
}

// NextSequence increments and returns the persisted identity counter.
func (s *SQLite) NextSequence(ctx context.Context) (int64, error) {
	var next int64
	err := s.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx,
			`UPDATE counters SET value = value + 1 WHERE name = ?`, seqCounter); err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		return db.QueryRowContext(ctx,
			`SELECT value FROM counters WHERE name = ?`, seqCounter).Scan(&next)
	})
	return next, err
}

// Clear removes all members and resets the sequence counter to zero.
func (s *SQLite) Clear(ctx context.Context) error {
	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin clear: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
			return fmt.Errorf("clear profiles: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE counters SET value = 0 WHERE name = ?`, seqCounter); err != nil {
			return fmt.Errorf("reset counter: %w", err)
		}

		return tx.Commit()
	})
}

// HealthCheck verifies the store is reachable.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
