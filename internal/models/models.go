package models

import (
	"time"
)

// SyncState represents where a record sits in the propagation state machine
type SyncState string

const (
	SyncPending   SyncState = "pending"
	SyncUploading SyncState = "uploading"
	SyncSynced    SyncState = "synced"
	SyncFailed    SyncState = "failed"
)

// IsValidSyncState checks if a sync state is valid
func IsValidSyncState(s SyncState) bool {
	switch s {
	case SyncPending, SyncUploading, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// EffortRating is the user's self-reported effort for a session
type EffortRating string

const (
	EffortNone     EffortRating = "none"
	EffortEasy     EffortRating = "easy"
	EffortModerate EffortRating = "moderate"
	EffortHard     EffortRating = "hard"
	EffortMax      EffortRating = "max"
)

// IsValidEffortRating checks if an effort rating is valid
func IsValidEffortRating(e EffortRating) bool {
	switch e {
	case EffortNone, EffortEasy, EffortModerate, EffortHard, EffortMax:
		return true
	}
	return false
}

// Source identifies the device or app that recorded a workout observation.
// Lower rank = higher trust. Used only for dedup priority, never identity.
type Source int

const (
	SourceCompanion  Source = 0 // native companion app
	SourcePlatform   Source = 1 // first-party platform workout app
	SourceVendor     Source = 2 // other hardware vendors
	SourceAggregator Source = 3 // generic aggregators
	SourceUnknown    Source = 4
)

// String returns a stable name for the source, for logs and display.
func (s Source) String() string {
	switch s {
	case SourceCompanion:
		return "companion"
	case SourcePlatform:
		return "platform"
	case SourceVendor:
		return "vendor"
	case SourceAggregator:
		return "aggregator"
	default:
		return "unknown"
	}
}

// ParseSource decodes a stored source rank. Anything out of range is unknown.
func ParseSource(rank int) Source {
	if rank < int(SourceCompanion) || rank > int(SourceUnknown) {
		return SourceUnknown
	}
	return Source(rank)
}

// Bucket classifies a session's context for baseline statistics.
// Temperature buckets use inclusive-low boundaries.
type Bucket string

const (
	BucketUnheated Bucket = "unheated" // no room temperature recorded
	BucketWarm     Bucket = "warm"     // below 90
	BucketHot90    Bucket = "hot90"    // 90-99
	BucketHot100   Bucket = "hot100"   // 100-104
	BucketHot105   Bucket = "hot105"   // 105 and above
)

// IsValidBucket checks if a bucket is valid
func IsValidBucket(b Bucket) bool {
	switch b {
	case BucketUnheated, BucketWarm, BucketHot90, BucketHot100, BucketHot105:
		return true
	}
	return false
}

// BucketFor maps a room temperature to its bucket. A nil temperature means
// the session was unheated.
func BucketFor(roomTemp *int) Bucket {
	if roomTemp == nil {
		return BucketUnheated
	}
	switch t := *roomTemp; {
	case t < 90:
		return BucketWarm
	case t < 100:
		return BucketHot90
	case t < 105:
		return BucketHot100
	default:
		return BucketHot105
	}
}

// Session is one workout session, the unit of sync and dedup.
type Session struct {
	ID                string       `json:"id"`
	ExternalWorkoutID string       `json:"external_workout_id,omitempty"`
	StartTime         time.Time    `json:"start_time"`
	EndTime           *time.Time   `json:"end_time,omitempty"`
	DurationOverride  *int         `json:"duration_override,omitempty"` // seconds, wins over computed
	RoomTemp          *int         `json:"room_temp,omitempty"`
	SessionType       string       `json:"session_type,omitempty"`
	Notes             string       `json:"notes,omitempty"`
	Narrative         string       `json:"narrative,omitempty"`
	EffortRating      EffortRating `json:"effort_rating"`
	Source            Source       `json:"source"`
	AvgHR             float64      `json:"avg_hr,omitempty"`
	MaxHR             float64      `json:"max_hr,omitempty"`
	Calories          float64      `json:"calories,omitempty"`
	RelatedIDs        []string     `json:"related_ids,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	SyncState         SyncState    `json:"sync_state"`
	LastSyncError     string       `json:"last_sync_error,omitempty"`
	DeletedAt         *time.Time   `json:"deleted_at,omitempty"`
}

// Duration returns the session duration. The explicit override wins over the
// computed start/end span. Zero when neither is available.
func (s *Session) Duration() time.Duration {
	if s.DurationOverride != nil {
		return time.Duration(*s.DurationOverride) * time.Second
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return 0
}

// Bucket returns the baseline bucket this session contributes to.
func (s *Session) Bucket() Bucket {
	return BucketFor(s.RoomTemp)
}

// Deleted reports whether the session carries a tombstone.
func (s *Session) Deleted() bool {
	return s.DeletedAt != nil
}

// Baseline is the rolling per-bucket heart rate average.
type Baseline struct {
	Bucket        Bucket    `json:"bucket"`
	AvgHR         float64   `json:"avg_hr"`
	SessionCount  int       `json:"session_count"`
	UpdatedAt     time.Time `json:"updated_at"`
	SyncState     SyncState `json:"sync_state"`
	LastSyncError string    `json:"last_sync_error,omitempty"`
}

// Observation is a finished workout record surfaced by the biometric
// subsystem. Any app or device may have written it; several observations can
// describe the same physical session.
type Observation struct {
	ExternalID string    `json:"external_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Source     Source    `json:"source"`
	AvgHR      float64   `json:"avg_hr,omitempty"`
	MaxHR      float64   `json:"max_hr,omitempty"`
	Calories   float64   `json:"calories,omitempty"`
	RoomTemp   *int      `json:"room_temp,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	ClaimedBy  string    `json:"claimed_by,omitempty"` // session id once canonical
	Dismissed  bool      `json:"dismissed"`            // suppressed as a duplicate
}

// MutationOp is the kind of change an outbox item propagates
type MutationOp string

const (
	OpUpsert MutationOp = "upsert"
	OpDelete MutationOp = "delete"
)

// RecordType distinguishes the tables an outbox item can reference
type RecordType string

const (
	RecordSession  RecordType = "session"
	RecordBaseline RecordType = "baseline"
)

// OutboxItem is a durable intent to propagate one mutation to the replica.
type OutboxItem struct {
	ID         int64      `json:"id"`
	RecordType RecordType `json:"record_type"`
	RecordID   string     `json:"record_id"`
	Op         MutationOp `json:"op"`
	CreatedAt  time.Time  `json:"created_at"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
}

// ComparisonKind is the outcome class of a baseline comparison
type ComparisonKind string

const (
	ComparisonInsufficientData ComparisonKind = "insufficient_data"
	ComparisonTypical          ComparisonKind = "typical"
	ComparisonHigherEffort     ComparisonKind = "higher_effort"
	ComparisonLowerEffort      ComparisonKind = "lower_effort"
)

// Comparison classifies a session's effort relative to its bucket's history.
// Percent is populated only for the higher/lower outcomes and is rounded to
// the nearest integer for display.
type Comparison struct {
	Kind    ComparisonKind `json:"kind"`
	Bucket  Bucket         `json:"bucket"`
	Percent int            `json:"percent,omitempty"`
	AvgHR   float64        `json:"avg_hr,omitempty"` // bucket baseline at comparison time
}
