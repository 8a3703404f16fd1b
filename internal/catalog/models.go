package catalog

import "time"

// Client is a remote node's identity and credentials. Clients are never
// deleted while referenced by packets; deactivation is the tombstone.
type Client struct {
	ID           int64
	ClientID     string
	HashedSecret string
	BBSName      string
	ContactName  string
	ContactEmail string
	IsActive     bool
	CreatedAt    time.Time
	LastSeenAt   *time.Time
}

// League is one game federation instance, keyed by (number, game type).
type League struct {
	ID           int64
	LeagueNumber string // 3-digit string, e.g. "555"
	GameType     byte   // 'B' or 'F'
	Name         string
	Description  string
	IsActive     bool
	CreatedAt    time.Time
}

// Membership binds a client to a league with the league-local routing
// address. Within one league, active bbs_index and fidonet_address values
// are unique.
type Membership struct {
	ID             int64
	ClientID       int64
	LeagueID       int64
	BBSIndex       int // 1-255
	FidonetAddress string
	IsActive       bool
	JoinedAt       time.Time
}

// Packet is one routed artifact. Filename is always canonical uppercase.
type Packet struct {
	ID              int64
	Filename        string
	LeagueID        int64
	SourceBBSIndex  string // 2-hex
	DestBBSIndex    string // 2-hex
	SequenceNumber  int
	SourceClientID  *int64
	DestClientID    *int64
	Payload         []byte
	Size            int
	Checksum        string
	UploadedAt      time.Time
	DownloadedAt    *time.Time
	ProcessedAt     *time.Time
	ProcessingRunID *int64
	IsProcessed     bool
	IsDownloaded    bool
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
)

// Run is one execution of the batch pipeline.
type Run struct {
	ID               int64
	LeagueID         *int64
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           string
	PacketsProcessed int
	PacketsFailed    int
	ExitCode         *int
	OutputLog        []byte // zstd-compressed captured emulator output
	ErrorMessage     string
}

// Artifact types.
const (
	ArtifactScore   = "score"
	ArtifactRoutes  = "routes"
	ArtifactBBSInfo = "bbsinfo"
)

// Artifact is a file produced by a run (score screens, routes.lst,
// bbsinfo.lst).
type Artifact struct {
	ID        int64
	RunID     int64
	FileType  string
	Filename  string
	Content   string
	Size      int
	CreatedAt time.Time
}

// Alert is an open or resolved sequence gap on one route.
type Alert struct {
	ID               int64
	LeagueID         int64
	SourceBBSIndex   string
	DestBBSIndex     string
	ExpectedSequence int
	ReceivedSequence int
	GapSize          int
	DetectedAt       time.Time
	ResolvedAt       *time.Time
	Description      string
	ResolutionNote   string
}

// Route identifies one directed sequence stream.
type Route struct {
	LeagueID       int64
	SourceBBSIndex string
	DestBBSIndex   string
}

// Stats is the dashboard snapshot.
type Stats struct {
	TotalPackets     int64 `json:"total_packets"`
	TotalClients     int64 `json:"total_clients"`
	ActiveClients    int64 `json:"active_clients"`
	ActiveLeagues    int64 `json:"active_leagues"`
	UnresolvedAlerts int64 `json:"pending_alerts"`
}
