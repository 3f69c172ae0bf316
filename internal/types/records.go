package types

import "time"

// CheckIn is an append-only front-desk visit record.
type CheckIn struct {
	ID         int64     `json:"id"`
	MemberID   string    `json:"member_id"`
	MemberName string    `json:"member_name,omitempty"`
	Source     string    `json:"source,omitempty"` // desk, scanner, manual
	Timestamp  time.Time `json:"timestamp"`
}

// Incident is a staff-recorded incident report.
type Incident struct {
	ID          int64     `json:"id"`
	MemberID    string    `json:"member_id,omitempty"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	ReportedBy  string    `json:"reported_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Announcement is a staff-facing notice.
type Announcement struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// KnowledgeBaseEntry is a question/answer pair maintained by staff.
type KnowledgeBaseEntry struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Table names of the cloud-mirrored tables.
const (
	TableMembers       = "members"
	TableCheckIns      = "check_ins"
	TableIncidents     = "incidents"
	TableAnnouncements = "announcements"
	TableKnowledgeBase = "knowledge_base"
)

// SyncedTables lists the tables whose local writes are pushed to the cloud store.
var SyncedTables = []string{
	TableMembers,
	TableCheckIns,
	TableIncidents,
	TableAnnouncements,
	TableKnowledgeBase,
}

// IsSyncedTable reports whether table is cloud-mirrored.
func IsSyncedTable(table string) bool {
	for _, t := range SyncedTables {
		if t == table {
			return true
		}
	}
	return false
}
