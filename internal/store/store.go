// Package store implements the daemon's durable state layer (§3, §4.1,
// §6.4): positions, grid sessions, grid trade history and the user trade
// audit log, all behind a single SQLite connection with a process-wide
// write lock and a monotonic per-symbol data_version counter.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// Store wraps the SQLite connection. Every write-path method takes mu,
// mirroring the single-writer discipline SQLite's own locking otherwise
// enforces only at the OS level — taking it in-process avoids busy-timeout
// retries turning into lock-ordering surprises for callers holding other
// component locks (§5).
type Store struct {
	db *sql.DB
	mu sync.Mutex

	versions   map[string]int64
	versionsMu sync.Mutex
}

func defaultPath() string {
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "trading_daemon.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "trading_daemon.db")
}

// Open opens (creating if absent) the state database at path, or at the
// default location relative to the working directory when path is empty,
// and runs all pending migrations. The 30s busy_timeout matches §6.4's
// concurrent-access contention budget.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, tradingerrors.NewFatalError("store", "Open", fmt.Sprintf("open sqlite: %v", err))
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, tradingerrors.NewFatalError("store", "Open", fmt.Sprintf("ping sqlite: %v", err))
	}

	s := &Store{db: sqlDB, versions: make(map[string]int64)}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, tradingerrors.NewFatalError("store", "Open", fmt.Sprintf("migrate: %v", err))
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	version := 0
	_ = s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS positions (
				stock_code                 TEXT PRIMARY KEY,
				volume                     INTEGER NOT NULL DEFAULT 0,
				available                  INTEGER NOT NULL DEFAULT 0,
				cost_price                 REAL NOT NULL DEFAULT 0,
				current_price              REAL NOT NULL DEFAULT 0,
				open_date                  TEXT,
				highest_price              REAL NOT NULL DEFAULT 0,
				profit_triggered           INTEGER NOT NULL DEFAULT 0,
				profit_breakout_triggered  INTEGER NOT NULL DEFAULT 0,
				breakout_highest_price     REAL NOT NULL DEFAULT 0,
				stop_loss_price            REAL NOT NULL DEFAULT 0,
				data_version               INTEGER NOT NULL DEFAULT 0,
				updated_at                 TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS grid_sessions (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				stock_code            TEXT NOT NULL,
				status                TEXT NOT NULL,
				center_price          REAL NOT NULL,
				current_center_price  REAL NOT NULL,
				price_interval        REAL NOT NULL,
				callback_ratio        REAL NOT NULL,
				position_ratio        REAL NOT NULL,
				max_investment        REAL NOT NULL,
				current_investment    REAL NOT NULL DEFAULT 0,
				max_deviation         REAL NOT NULL,
				target_profit         REAL NOT NULL,
				stop_loss             REAL NOT NULL,
				trade_count           INTEGER NOT NULL DEFAULT 0,
				buy_count             INTEGER NOT NULL DEFAULT 0,
				sell_count            INTEGER NOT NULL DEFAULT 0,
				total_buy_amount      REAL NOT NULL DEFAULT 0,
				total_sell_amount     REAL NOT NULL DEFAULT 0,
				start_time            TEXT NOT NULL,
				end_time              TEXT,
				stop_time             TEXT,
				stop_reason           TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_grid_sessions_stock_status ON grid_sessions(stock_code, status);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_grid_sessions_active_unique
				ON grid_sessions(stock_code, status) WHERE status = 'active';

			CREATE TABLE IF NOT EXISTS grid_trades (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id          INTEGER NOT NULL REFERENCES grid_sessions(id),
				stock_code          TEXT NOT NULL,
				trade_type          TEXT NOT NULL,
				grid_level          REAL NOT NULL,
				trigger_price       REAL NOT NULL,
				volume              INTEGER NOT NULL,
				amount              REAL NOT NULL,
				peak_price          REAL NOT NULL DEFAULT 0,
				valley_price        REAL NOT NULL DEFAULT 0,
				callback_ratio      REAL NOT NULL DEFAULT 0,
				trade_id            TEXT NOT NULL,
				trade_time          TEXT NOT NULL,
				grid_center_before  REAL NOT NULL DEFAULT 0,
				grid_center_after   REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_grid_trades_session ON grid_trades(session_id);

			CREATE TABLE IF NOT EXISTS trade_records (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				stock_code TEXT NOT NULL,
				side       TEXT NOT NULL,
				price      REAL NOT NULL,
				volume     INTEGER NOT NULL,
				amount     REAL NOT NULL,
				broker_id  TEXT NOT NULL,
				strategy   TEXT NOT NULL,
				timestamp  TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_trade_records_stock ON trade_records(stock_code);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	if err := s.ensureTableColumn("positions", "filled_add_tiers", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("migration: add positions.filled_add_tiers: %w", err)
	}

	return nil
}

func (s *Store) tableExists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	return n > 0, err
}

// ensureTableColumn is kept for future additive migrations (§6.4): a new
// column can be bolted onto an existing table at startup without a
// destructive rebuild, the way the v2+ schema changes in this store's
// lineage were applied.
func (s *Store) ensureTableColumn(table, column, columnDef string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}

	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnDef))
	return err
}

// nextVersion returns the next monotonic data_version for a symbol. The
// counter lives in-process (reset on restart) since its only contract is
// "changed since I last observed it", not cross-restart continuity (§6.4).
func (s *Store) nextVersion(stockCode string) int64 {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()
	s.versions[stockCode]++
	return s.versions[stockCode]
}

// DataVersion returns the last data_version handed out for stockCode.
func (s *Store) DataVersion(stockCode string) int64 {
	s.versionsMu.Lock()
	defer s.versionsMu.Unlock()
	return s.versions[stockCode]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeOrZero(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
