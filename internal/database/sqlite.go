package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lockss-go/internal/database/migrations"
	"lockss-go/internal/lockss"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the Database interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers. Callers must drain *sql.Rows before issuing another query.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Archival unit operations

func (s *SQLiteDatabase) CreateArchivalUnit(au *lockss.ArchivalUnit, state *lockss.AuState) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO archival_units (id, name, base_url, created_at) VALUES (?, ?, ?, ?)`,
		au.ID, au.Name, au.BaseURL, au.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting archival unit: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO au_states (au_id, subscription_status, substance_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		state.AuID, int(state.SubscriptionStatus), int(state.SubstanceState), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting au state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindArchivalUnit(id string) (*lockss.ArchivalUnit, error) {
	au := &lockss.ArchivalUnit{}
	err := s.db.QueryRow(`SELECT id, name, base_url, created_at FROM archival_units WHERE id = ?`, id).
		Scan(&au.ID, &au.Name, &au.BaseURL, &au.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding archival unit: %w", err)
	}
	return au, nil
}

func (s *SQLiteDatabase) ListArchivalUnits() ([]*lockss.ArchivalUnit, error) {
	rows, err := s.db.Query(`SELECT id, name, base_url, created_at FROM archival_units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing archival units: %w", err)
	}
	defer rows.Close()

	var result []*lockss.ArchivalUnit
	for rows.Next() {
		au := &lockss.ArchivalUnit{}
		if err := rows.Scan(&au.ID, &au.Name, &au.BaseURL, &au.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning archival unit: %w", err)
		}
		result = append(result, au)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archival units: %w", err)
	}
	return result, nil
}

// AU state operations

func (s *SQLiteDatabase) FindAuState(auID string) (*lockss.AuState, error) {
	state := &lockss.AuState{}
	var sub, substance int
	err := s.db.QueryRow(`SELECT au_id, subscription_status, substance_state, created_at, updated_at
		FROM au_states WHERE au_id = ?`, auID).
		Scan(&state.AuID, &sub, &substance, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding au state: %w", err)
	}
	state.SubscriptionStatus = lockss.SubscriptionStatus(sub)
	state.SubstanceState = lockss.SubstanceState(substance)
	return state, nil
}

func (s *SQLiteDatabase) SaveAuState(state *lockss.AuState) error {
	_, err := s.db.Exec(`INSERT INTO au_states (au_id, subscription_status, substance_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (au_id) DO UPDATE SET
			subscription_status = excluded.subscription_status,
			substance_state = excluded.substance_state,
			updated_at = excluded.updated_at`,
		state.AuID, int(state.SubscriptionStatus), int(state.SubstanceState), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving au state: %w", err)
	}
	return nil
}

// Node and file operations

const nodeColumns = `n.id, n.au_id, n.url, COALESCE(n.parent_id, ''), n.collection, n.created_at, f.node_id IS NOT NULL`

func scanNode(row interface{ Scan(...any) error }) (*lockss.Node, error) {
	n := &lockss.Node{}
	if err := row.Scan(&n.ID, &n.AuID, &n.URL, &n.ParentID, &n.Collection, &n.CreatedAt, &n.HasFile); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SQLiteDatabase) FindNode(auID, url string) (*lockss.Node, error) {
	row := s.db.QueryRow(`SELECT `+nodeColumns+`
		FROM nodes n LEFT JOIN files f ON f.node_id = n.id
		WHERE n.au_id = ? AND n.url = ?`, auID, url)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding node: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) CreateNodes(nodes []*lockss.Node) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range nodes {
		parent := sql.NullString{String: n.ParentID, Valid: n.ParentID != ""}
		_, err := tx.Exec(`INSERT INTO nodes (id, au_id, url, parent_id, collection, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, n.AuID, n.URL, parent, n.Collection, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting node %s: %w", n.URL, err)
		}
	}

	// New nodes change their ancestors' subtree sizes.
	if len(nodes) > 0 && nodes[0].ParentID != "" {
		if err := invalidateTreeSizes(tx, nodes[0].ParentID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindChildNodes(nodeID string) ([]*lockss.Node, error) {
	rows, err := s.db.Query(`SELECT `+nodeColumns+`
		FROM nodes n LEFT JOIN files f ON f.node_id = n.id
		WHERE n.parent_id = ? ORDER BY n.url`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding child nodes: %w", err)
	}
	defer rows.Close()

	var result []*lockss.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding child nodes: %w", err)
	}
	return result, nil
}

const fileColumns = `f.node_id, n.au_id, n.url, n.collection, f.properties, f.preferred_version, f.created_at`

func scanFile(row interface{ Scan(...any) error }) (*lockss.File, error) {
	f := &lockss.File{}
	var props []byte
	if err := row.Scan(&f.NodeID, &f.AuID, &f.URL, &f.Collection, &props, &f.PreferredVersion, &f.CreatedAt); err != nil {
		return nil, err
	}
	p, err := decodeProperties(props)
	if err != nil {
		return nil, err
	}
	f.Properties = p
	return f, nil
}

func (s *SQLiteDatabase) FindFile(nodeID string) (*lockss.File, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+`
		FROM files f JOIN nodes n ON n.id = f.node_id
		WHERE f.node_id = ?`, nodeID)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file: %w", err)
	}
	return f, nil
}

func (s *SQLiteDatabase) CreateFile(file *lockss.File) error {
	props, err := encodeProperties(file.Properties)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO files (node_id, properties, preferred_version, created_at) VALUES (?, ?, ?, ?)`,
		file.NodeID, props, file.PreferredVersion, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) SaveFileProperties(nodeID string, props lockss.Properties) error {
	encoded, err := encodeProperties(props)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE files SET properties = ? WHERE node_id = ?`, encoded, nodeID)
	if err != nil {
		return fmt.Errorf("saving file properties: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", nodeID, lockss.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) FindFilesByAU(auID string) ([]*lockss.File, error) {
	rows, err := s.db.Query(`SELECT `+fileColumns+`
		FROM files f JOIN nodes n ON n.id = f.node_id
		WHERE n.au_id = ? ORDER BY n.url`, auID)
	if err != nil {
		return nil, fmt.Errorf("finding files by au: %w", err)
	}
	defer rows.Close()

	var result []*lockss.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding files by au: %w", err)
	}
	return result, nil
}

// Version operations

func (s *SQLiteDatabase) AppendVersion(v *lockss.Version, makePreferred bool) error {
	props, err := encodeProperties(v.Properties)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var latest int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(number), 0) FROM versions WHERE node_id = ?`, v.NodeID).Scan(&latest); err != nil {
		return fmt.Errorf("finding latest version: %w", err)
	}
	number := latest + 1

	_, err = tx.Exec(`INSERT INTO versions (node_id, number, blob_id, size, properties, deleted, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.NodeID, number, v.BlobID, v.Size, props, false, v.CommittedAt)
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	if makePreferred || number == 1 {
		if _, err := tx.Exec(`UPDATE files SET preferred_version = ? WHERE node_id = ?`, number, v.NodeID); err != nil {
			return fmt.Errorf("updating preferred version: %w", err)
		}
	}

	if err := invalidateTreeSizes(tx, v.NodeID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	v.Number = number
	return nil
}

func (s *SQLiteDatabase) FindVersions(nodeID string, limit int) ([]*lockss.Version, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.Query(`SELECT v.node_id, n.url, n.collection, v.number, v.blob_id, v.size, v.properties, v.deleted, v.committed_at
		FROM versions v JOIN nodes n ON n.id = v.node_id
		WHERE v.node_id = ? ORDER BY v.number DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("finding versions: %w", err)
	}
	defer rows.Close()

	var result []*lockss.Version
	for rows.Next() {
		v := &lockss.Version{}
		var props []byte
		if err := rows.Scan(&v.NodeID, &v.URL, &v.Collection, &v.Number, &v.BlobID, &v.Size, &props, &v.Deleted, &v.CommittedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		if v.Properties, err = decodeProperties(props); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding versions: %w", err)
	}
	return result, nil
}

func (s *SQLiteDatabase) SetVersionDeleted(nodeID string, number int, deleted bool) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE versions SET deleted = ? WHERE node_id = ? AND number = ?`, deleted, nodeID, number)
	if err != nil {
		return fmt.Errorf("updating version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("version %d of node %s: %w", number, nodeID, lockss.ErrNotFound)
	}

	if err := invalidateTreeSizes(tx, nodeID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// invalidateTreeSizes clears the cached sizes of nodeID and all its ancestors.
func invalidateTreeSizes(tx *sql.Tx, nodeID string) error {
	_, err := tx.Exec(`WITH RECURSIVE ancestors(id) AS (
			SELECT ?
			UNION ALL
			SELECT n.parent_id FROM nodes n JOIN ancestors a ON n.id = a.id WHERE n.parent_id IS NOT NULL
		)
		UPDATE nodes SET tree_size_latest = NULL, tree_size_all = NULL
		WHERE id IN (SELECT id FROM ancestors)`, nodeID)
	if err != nil {
		return fmt.Errorf("invalidating tree sizes: %w", err)
	}
	return nil
}

// Tree size cache

func treeSizeColumn(mode lockss.SizeMode) string {
	if mode == lockss.SizeAllVersions {
		return "tree_size_all"
	}
	return "tree_size_latest"
}

func (s *SQLiteDatabase) FindTreeSize(nodeID string, mode lockss.SizeMode) (int64, bool, error) {
	var size sql.NullInt64
	err := s.db.QueryRow(`SELECT `+treeSizeColumn(mode)+` FROM nodes WHERE id = ?`, nodeID).Scan(&size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("finding tree size: %w", err)
	}
	return size.Int64, size.Valid, nil
}

func (s *SQLiteDatabase) SaveTreeSize(nodeID string, mode lockss.SizeMode, size int64) error {
	if _, err := s.db.Exec(`UPDATE nodes SET `+treeSizeColumn(mode)+` = ? WHERE id = ?`, size, nodeID); err != nil {
		return fmt.Errorf("saving tree size: %w", err)
	}
	return nil
}

// Agreeing peers

func (s *SQLiteDatabase) AddAgreeingPeer(nodeID, peerID string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO agreeing_peers (node_id, peer_id) VALUES (?, ?)`, nodeID, peerID); err != nil {
		return fmt.Errorf("adding agreeing peer: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindAgreeingPeers(nodeID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT peer_id FROM agreeing_peers WHERE node_id = ? ORDER BY peer_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding agreeing peers: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("scanning agreeing peer: %w", err)
		}
		peers = append(peers, peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding agreeing peers: %w", err)
	}
	return peers, nil
}

// Repair requests

func (s *SQLiteDatabase) CreateRepairRequest(req *lockss.RepairRequest) error {
	if req.State == "" {
		req.State = "pending"
	}
	res, err := s.db.Exec(`INSERT INTO repair_requests (au_id, priority, state, requested_at) VALUES (?, ?, ?, ?)`,
		req.AuID, int(req.Priority), req.State, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("creating repair request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating repair request: %w", err)
	}
	req.ID = id
	return nil
}

func (s *SQLiteDatabase) CountPendingRepairRequests() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM repair_requests WHERE state = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting repair requests: %w", err)
	}
	return n, nil
}

func (s *SQLiteDatabase) FindPendingRepairRequest(auID string) (*lockss.RepairRequest, error) {
	req := &lockss.RepairRequest{}
	var priority int
	err := s.db.QueryRow(`SELECT id, au_id, priority, state, requested_at FROM repair_requests
		WHERE state = 'pending' AND au_id = ? ORDER BY priority DESC, id LIMIT 1`, auID).
		Scan(&req.ID, &req.AuID, &priority, &req.State, &req.RequestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding pending repair request: %w", err)
	}
	req.Priority = lockss.Priority(priority)
	return req, nil
}

func (s *SQLiteDatabase) RaiseRepairPriority(id int64, priority lockss.Priority) error {
	res, err := s.db.Exec(`UPDATE repair_requests SET priority = ? WHERE id = ? AND state = 'pending'`, int(priority), id)
	if err != nil {
		return fmt.Errorf("raising repair priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending repair request %d: %w", id, lockss.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) ListRepairRequests(limit int) ([]*lockss.RepairRequest, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, au_id, priority, state, requested_at FROM repair_requests
		ORDER BY priority DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing repair requests: %w", err)
	}
	defer rows.Close()

	var result []*lockss.RepairRequest
	for rows.Next() {
		req := &lockss.RepairRequest{}
		var priority int
		if err := rows.Scan(&req.ID, &req.AuID, &priority, &req.State, &req.RequestedAt); err != nil {
			return nil, fmt.Errorf("scanning repair request: %w", err)
		}
		req.Priority = lockss.Priority(priority)
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing repair requests: %w", err)
	}
	return result, nil
}

// Damage ledger

func (s *SQLiteDatabase) MarkDamaged(auID, url string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO damaged_nodes (au_id, url, reported_at) VALUES (?, ?, ?)
		ON CONFLICT (au_id, url) DO UPDATE SET reported_at = excluded.reported_at`, auID, url, at)
	if err != nil {
		return fmt.Errorf("marking damaged: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ClearDamaged(auID, url string) error {
	res, err := s.db.Exec(`DELETE FROM damaged_nodes WHERE au_id = ? AND url = ?`, auID, url)
	if err != nil {
		return fmt.Errorf("clearing damaged node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("damaged node %s: %w", url, lockss.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) ListDamaged(auID string) ([]*lockss.DamageRecord, error) {
	query := `SELECT au_id, url, reported_at FROM damaged_nodes`
	var args []any
	if auID != "" {
		query += ` WHERE au_id = ?`
		args = append(args, auID)
	}
	query += ` ORDER BY au_id, url`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing damaged nodes: %w", err)
	}
	defer rows.Close()

	var result []*lockss.DamageRecord
	for rows.Next() {
		rec := &lockss.DamageRecord{}
		if err := rows.Scan(&rec.AuID, &rec.URL, &rec.ReportedAt); err != nil {
			return nil, fmt.Errorf("scanning damaged node: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing damaged nodes: %w", err)
	}
	return result, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(operation string, parameters string) (*lockss.Operation, error) {
	op := &lockss.Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  time.Now(),
	}
	res, err := s.db.Exec(`INSERT INTO operations (operation, parameters, status, started_at) VALUES (?, ?, ?, ?)`,
		op.Operation, op.Parameters, op.Status, op.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`, time.Now(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*lockss.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, operation, parameters, status, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*lockss.Operation
	for rows.Next() {
		op := &lockss.Operation{}
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &op.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = finished.Time
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements lockss.Database interface
var _ lockss.Database = (*SQLiteDatabase)(nil)
