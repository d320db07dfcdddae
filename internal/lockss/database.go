package lockss

import "time"

// Database provides metadata storage for the repository, AU registry and
// the bookkeeping ledgers. Find* methods return (nil, nil) when nothing matches.
type Database interface {
	// Archival units

	CreateArchivalUnit(au *ArchivalUnit, state *AuState) error
	FindArchivalUnit(id string) (*ArchivalUnit, error)
	ListArchivalUnits() ([]*ArchivalUnit, error)

	// AU state

	FindAuState(auID string) (*AuState, error)
	SaveAuState(state *AuState) error

	// Nodes and files

	FindNode(auID, url string) (*Node, error)
	// CreateNodes inserts nodes in order (ancestors first) in one transaction.
	CreateNodes(nodes []*Node) error
	FindChildNodes(nodeID string) ([]*Node, error)
	FindFile(nodeID string) (*File, error)
	CreateFile(file *File) error
	// SaveFileProperties replaces a file's properties. ErrNotFound if the file does not exist.
	SaveFileProperties(nodeID string, props Properties) error
	FindFilesByAU(auID string) ([]*File, error)

	// Versions

	// AppendVersion assigns the next version number, records the version,
	// updates the preferred pointer when requested and invalidates cached
	// tree sizes of the node and its ancestors, all in one transaction.
	AppendVersion(v *Version, makePreferred bool) error
	FindVersions(nodeID string, limit int) ([]*Version, error)
	SetVersionDeleted(nodeID string, number int, deleted bool) error

	// Tree size cache

	FindTreeSize(nodeID string, mode SizeMode) (int64, bool, error)
	SaveTreeSize(nodeID string, mode SizeMode, size int64) error

	// Agreeing peers

	AddAgreeingPeer(nodeID, peerID string) error
	FindAgreeingPeers(nodeID string) ([]string, error)

	// Repair requests

	CreateRepairRequest(req *RepairRequest) error
	CountPendingRepairRequests() (int, error)
	// FindPendingRepairRequest returns the AU's highest priority pending request.
	FindPendingRepairRequest(auID string) (*RepairRequest, error)
	// RaiseRepairPriority sets the priority of a pending request.
	RaiseRepairPriority(id int64, priority Priority) error
	ListRepairRequests(limit int) ([]*RepairRequest, error)

	// Damage ledger

	MarkDamaged(auID, url string, at time.Time) error
	ClearDamaged(auID, url string) error
	ListDamaged(auID string) ([]*DamageRecord, error)

	// Operation tracking

	CreateOperation(operation, parameters string) (*Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)

	CheckMigrations() error
	Close() error
}

// RepairRequest is a queued request for a repair poll on an AU.
type RepairRequest struct {
	ID          int64
	AuID        string
	Priority    Priority
	State       string
	RequestedAt time.Time
}

// DamageRecord notes that a URL failed verification.
type DamageRecord struct {
	AuID       string
	URL        string
	ReportedAt time.Time
}

// Operation is a recorded CLI or daemon operation.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}
