package presence

import (
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// Person statuses at a campus.
const (
	StatusInside  = "inside"
	StatusOutside = "outside"
)

// Event types in fg.presence_events.
const (
	EventEntry   = "entry"
	EventExit    = "exit"
	EventUnknown = "unknown_detection"
)

// maxEventLimit caps the events query; the default applies when the caller
// passes no limit.
const (
	maxEventLimit     = 200
	defaultEventLimit = 50
)

// Event is one row of the append-only fg.presence_events log. For entry and
// exit events SubjectID is the enrolled subject; for unknown detections it
// carries the cluster id and DetectionCount the cluster's running total.
type Event struct {
	bun.BaseModel `bun:"table:fg.presence_events,alias:ev"`

	ID             string    `bun:"id,pk,type:uuid" json:"id"`
	TenantID       string    `bun:"tenant_id,notnull" json:"tenantId"`
	CampusID       string    `bun:"campus_id,notnull" json:"campusId"`
	EventType      string    `bun:"event_type,notnull" json:"eventType"`
	SubjectID      string    `bun:"subject_id,notnull" json:"subjectId"`
	SubjectKind    string    `bun:"subject_kind,notnull,default:''" json:"subjectKind,omitempty"`
	SubjectName    string    `bun:"subject_name,notnull,default:''" json:"subjectName,omitempty"`
	CameraID       string    `bun:"camera_id,notnull" json:"cameraId"`
	Score          float64   `bun:"score,notnull,default:0" json:"score"`
	IsNew          bool      `bun:"is_new,notnull,default:false" json:"isNew,omitempty"`
	DetectionCount int       `bun:"detection_count,notnull,default:0" json:"detectionCount,omitempty"`
	OccurredAt     time.Time `bun:"occurred_at,notnull" json:"occurredAt"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// StateRow is the persisted mirror of one in-memory PersonState, written
// last-write-wins by the flusher.
type StateRow struct {
	bun.BaseModel `bun:"table:fg.presence_states,alias:ps"`

	TenantID       string     `bun:"tenant_id,pk" json:"tenantId"`
	CampusID       string     `bun:"campus_id,pk" json:"campusId"`
	SubjectID      string     `bun:"subject_id,pk" json:"subjectId"`
	Kind           string     `bun:"kind,notnull,default:''" json:"kind"`
	Name           string     `bun:"name,notnull,default:''" json:"name"`
	Status         string     `bun:"status,notnull,default:'outside'" json:"status"`
	CurrentEntryAt *time.Time `bun:"current_entry_at" json:"currentEntryAt,omitempty"`
	LastExitAt     *time.Time `bun:"last_exit_at" json:"lastExitAt,omitempty"`
	LastSeenAt     *time.Time `bun:"last_seen_at" json:"lastSeenAt,omitempty"`
	LastCamera     string     `bun:"last_camera,notnull,default:''" json:"lastCamera,omitempty"`
	EntriesToday   int        `bun:"entries_today,notnull,default:0" json:"entriesToday"`
	ExitsToday     int        `bun:"exits_today,notnull,default:0" json:"exitsToday"`
	Detections     int64      `bun:"detections,notnull,default:0" json:"detectionsToday"`
	CountersDate   time.Time  `bun:"counters_date,notnull,type:date" json:"-"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// ClusterRow is the persisted mirror of one unknown cluster. The embedding
// window stays in memory; the mirror carries only the reportable fields.
type ClusterRow struct {
	bun.BaseModel `bun:"table:fg.unknown_clusters,alias:uc"`

	ClusterID      string         `bun:"cluster_id,pk" json:"clusterId"`
	TenantID       string         `bun:"tenant_id,notnull" json:"tenantId"`
	CampusID       string         `bun:"campus_id,pk" json:"campusId"`
	FirstSeen      time.Time      `bun:"first_seen,notnull" json:"firstSeen"`
	LastSeen       time.Time      `bun:"last_seen,notnull" json:"lastSeen"`
	DetectionCount int            `bun:"detection_count,notnull,default:0" json:"detectionCount"`
	CamerasSeen    pq.StringArray `bun:"cameras_seen,type:text[]" json:"camerasSeen"`
	UpdatedAt      time.Time      `bun:"updated_at,notnull,default:now()" json:"-"`
}

// AnalyticsRow is one (tenant, campus, day) counter document, upsert-replaced
// by the analytics task.
type AnalyticsRow struct {
	bun.BaseModel `bun:"table:fg.campus_analytics,alias:ca"`

	TenantID          string    `bun:"tenant_id,pk" json:"tenantId"`
	CampusID          string    `bun:"campus_id,pk" json:"campusId"`
	Date              time.Time `bun:"date,pk,type:date" json:"date"`
	Inside            int       `bun:"inside,notnull,default:0" json:"inside"`
	EmployeesInside   int       `bun:"employees_inside,notnull,default:0" json:"employeesInside"`
	VisitorsInside    int       `bun:"visitors_inside,notnull,default:0" json:"visitorsInside"`
	Entries           int       `bun:"entries,notnull,default:0" json:"entries"`
	Exits             int       `bun:"exits,notnull,default:0" json:"exits"`
	UnknownDetections int       `bun:"unknown_detections,notnull,default:0" json:"unknownDetections"`
	UniqueUnknowns    int       `bun:"unique_unknowns,notnull,default:0" json:"uniqueUnknowns"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Pending is a first observation at an entry or exit camera awaiting the
// confirmation delay.
type Pending struct {
	CameraID    string    `json:"cameraId"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	Similarity  float64   `json:"similarity"`
}

// PersonState is the authoritative in-memory state of one subject at a
// campus. All access goes through the engine's guard.
type PersonState struct {
	SubjectID string `json:"subjectId"`
	TenantID  string `json:"tenantId"`
	CampusID  string `json:"campusId"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`

	Status         string     `json:"status"`
	CurrentEntryAt *time.Time `json:"currentEntryAt,omitempty"`
	LastExitAt     *time.Time `json:"lastExitAt,omitempty"`

	EntriesToday    int   `json:"entriesToday"`
	ExitsToday      int   `json:"exitsToday"`
	DetectionsToday int64 `json:"detectionsToday"`

	LastCamera string     `json:"lastCamera,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`

	PendingEntry *Pending `json:"pendingEntry,omitempty"`
	PendingExit  *Pending `json:"pendingExit,omitempty"`

	countersDate time.Time
}

// CampusStatus is the live counter set of one campus.
type CampusStatus struct {
	CampusID          string `json:"campusId"`
	Inside            int    `json:"inside"`
	EmployeesInside   int    `json:"employeesInside"`
	VisitorsInside    int    `json:"visitorsInside"`
	EntriesToday      int    `json:"entriesToday"`
	ExitsToday        int    `json:"exitsToday"`
	UnknownDetections int    `json:"unknownDetectionsToday"`
	UniqueUnknowns    int    `json:"uniqueUnknowns"`
}

// OverallStatus is the payload of GET /api/status.
type OverallStatus struct {
	TotalInside       int                     `json:"totalInside"`
	TotalEntriesToday int                     `json:"totalEntriesToday"`
	TotalExitsToday   int                     `json:"totalExitsToday"`
	Campuses          map[string]CampusStatus `json:"campuses"`
	Timestamp         time.Time               `json:"timestamp"`
}

// Summary is the payload of GET /api/analytics/summary.
type Summary struct {
	TotalCampuses        int                     `json:"totalCampuses"`
	TotalInside          int                     `json:"totalInside"`
	TotalEmployeesInside int                     `json:"totalEmployeesInside"`
	TotalVisitorsInside  int                     `json:"totalVisitorsInside"`
	TotalEntriesToday    int                     `json:"totalEntriesToday"`
	TotalExitsToday      int                     `json:"totalExitsToday"`
	TotalUnknownToday    int                     `json:"totalUnknownToday"`
	CampusBreakdown      map[string]CampusStatus `json:"campusBreakdown"`
	Timestamp            time.Time               `json:"timestamp"`
}

// EventList wraps an events query result with its count.
type EventList struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// PeopleList wraps a people query result with its count.
type PeopleList struct {
	People []PersonState `json:"people"`
	Count  int           `json:"count"`
}

// ClusterList wraps the unknown-cluster listing of one campus.
type ClusterList struct {
	Clusters        []ClusterRow `json:"clusters"`
	TotalUnique     int          `json:"totalUnique"`
	TotalDetections int          `json:"totalDetections"`
}

// AnalyticsList wraps a daily-analytics query result.
type AnalyticsList struct {
	Days  []AnalyticsRow `json:"days"`
	Count int            `json:"count"`
}
