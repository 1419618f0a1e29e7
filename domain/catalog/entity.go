package catalog

import (
	"time"

	"github.com/uptrace/bun"
)

// Subject kinds.
const (
	KindEmployee = "employee"
	KindVisitor  = "visitor"
)

// Subject lifecycle statuses driven by enrollment and the training worker.
const (
	SubjectRegistered       = "registered"
	SubjectActive           = "active"
	SubjectIncomplete       = "incomplete"
	SubjectPendingDuplicate = "pending_duplicate_removal"
)

// Embedding record statuses. A record mirrors the job state machine: created
// queued, marked started when a worker picks it up, and finished in exactly
// one of done, failed or duplicate.
const (
	StatusQueued    = "queued"
	StatusStarted   = "started"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

// Subject is an enrolled person in fg.subjects.
type Subject struct {
	bun.BaseModel `bun:"table:fg.subjects,alias:s"`

	ID           string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID     string    `bun:"tenant_id,notnull" json:"tenantId"`
	SubjectID    string    `bun:"subject_id,notnull" json:"subjectId"`
	Kind         string    `bun:"kind,notnull,default:'employee'" json:"kind"`
	Name         string    `bun:"name,notnull,default:''" json:"name"`
	Email        string    `bun:"email,notnull,default:''" json:"email,omitempty"`
	Mobile       string    `bun:"mobile,notnull,default:''" json:"mobile,omitempty"`
	Active       bool      `bun:"active,notnull,default:true" json:"active"`
	Blacklisted  bool      `bun:"blacklisted,notnull,default:false" json:"blacklisted"`
	Status       string    `bun:"status,notnull,default:'registered'" json:"status"`
	RegisteredAt time.Time `bun:"registered_at,notnull,default:now()" json:"registeredAt"`
	LastUpdated  time.Time `bun:"last_updated,notnull,default:now()" json:"lastUpdated"`
}

// EmbeddingRecord is one row of fg.embedding_records: the per-model embedding
// attached to a subject. The embedding_vec mirror column is written with a raw
// cast and deliberately not mapped here.
type EmbeddingRecord struct {
	bun.BaseModel `bun:"table:fg.embedding_records,alias:r"`

	ID          string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID    string     `bun:"tenant_id,notnull" json:"tenantId"`
	SubjectID   string     `bun:"subject_id,notnull" json:"subjectId"`
	Model       string     `bun:"model,notnull" json:"model"`
	Status      string     `bun:"status,notnull,default:'queued'" json:"status"`
	ObjectKey   string     `bun:"object_key,notnull,default:''" json:"objectKey,omitempty"`
	Embedding   []byte     `bun:"embedding" json:"-"`
	Dim         int        `bun:"dim,notnull,default:0" json:"dim"`
	Error       string     `bun:"error,notnull,default:''" json:"error,omitempty"`
	DuplicateOf *string    `bun:"duplicate_of" json:"duplicateOf,omitempty"`
	PosesUsed   []string   `bun:"poses_used,array" json:"posesUsed,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	FinishedAt  *time.Time `bun:"finished_at" json:"finishedAt,omitempty"`
}

// EnrollmentImage maps one pose of a subject's enrollment set to its object
// storage key.
type EnrollmentImage struct {
	bun.BaseModel `bun:"table:fg.enrollment_images,alias:ei"`

	ID         string    `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID   string    `bun:"tenant_id,notnull" json:"tenantId"`
	SubjectID  string    `bun:"subject_id,notnull" json:"subjectId"`
	Model      string    `bun:"model,notnull" json:"model"`
	Pose       string    `bun:"pose,notnull" json:"pose"`
	ObjectKey  string    `bun:"object_key,notnull" json:"objectKey"`
	UploadedAt time.Time `bun:"uploaded_at,notnull,default:now()" json:"uploadedAt"`
}

// Entry is one matchable identity in the in-memory view: a unit-normalized
// embedding plus the display metadata the presence layer carries on events.
type Entry struct {
	SubjectID string    `json:"subjectId"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Embedding []float32 `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TenantStats counts the loaded entries of one tenant by kind.
type TenantStats struct {
	Subjects  int `json:"subjects"`
	Employees int `json:"employees"`
	Visitors  int `json:"visitors"`
}

// StoreStats describes the in-memory view as a whole.
type StoreStats struct {
	Tenants    int                    `json:"tenants"`
	Subjects   int                    `json:"subjects"`
	SyncCount  uint64                 `json:"syncCount"`
	LastSyncAt *time.Time             `json:"lastSyncAt,omitempty"`
	PerTenant  map[string]TenantStats `json:"perTenant"`
}

// RecordCounts groups fg.embedding_records rows by status.
type RecordCounts struct {
	Queued    int64 `json:"queued"`
	Started   int64 `json:"started"`
	Done      int64 `json:"done"`
	Failed    int64 `json:"failed"`
	Duplicate int64 `json:"duplicate"`
}

// StatsResponse is the payload of GET /api/embeddings/stats.
type StatsResponse struct {
	Store   StoreStats   `json:"store"`
	Records RecordCounts `json:"records"`
}
