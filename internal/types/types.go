// Package types holds the shared data-model structs used across the memory engine.
// These mirror the tables described by the store's schema; every other package borrows
// values of these types for the duration of a call and never owns the underlying rows.
package types

import "time"

// EntityType enumerates the kinds of entity the extractor and guards recognize.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityConcept      EntityType = "concept"
	EntityOther        EntityType = "other"
)

// ContactTrend classifies the slope of an entity's recent contact velocity.
type ContactTrend string

const (
	TrendAccelerating ContactTrend = "accelerating"
	TrendStable       ContactTrend = "stable"
	TrendDecelerating ContactTrend = "decelerating"
	TrendDormant      ContactTrend = "dormant"
)

// AttentionTier is the coarse recency/importance bucket assigned by Consolidate.
type AttentionTier string

const (
	TierActive  AttentionTier = "active"
	TierWatch   AttentionTier = "watch"
	TierDormant AttentionTier = "dormant"
	TierArchive AttentionTier = "archive"
)

// Entity is a node in the knowledge graph: a person, organization, project, or concept.
type Entity struct {
	ID                   int64
	Name                 string
	CanonicalName        string
	Type                 EntityType
	Importance           float64
	Metadata             map[string]any
	LastContactAt        *time.Time
	ContactFrequencyDays *float64
	ContactTrend         ContactTrend
	AttentionTier        AttentionTier
	DeletedAt            *time.Time
	DeletedReason        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// MemoryType enumerates the recognized kinds of memory content.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryPreference  MemoryType = "preference"
	MemoryObservation MemoryType = "observation"
	MemoryCommitment  MemoryType = "commitment"
	MemoryInsight     MemoryType = "insight"
)

// VerificationStatus tracks the outcome of Verify's periodic pass over a memory.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFlagged  VerificationStatus = "flagged"
)

// Memory is a single remembered fact, preference, observation, or commitment.
type Memory struct {
	ID                 int64
	Content             string
	ContentHash         string
	Type                MemoryType
	Importance          float64
	Confidence          float64
	AccessCount         int64
	SourceChannel       string
	DeadlineAt          *time.Time
	CorrectedAt         *time.Time
	CorrectedFrom        string
	InvalidatedAt       *time.Time
	InvalidatedReason   string
	VerificationStatus  VerificationStatus
	VerifiedAt          *time.Time
	Metadata            map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Live reports whether the memory has not been invalidated.
func (m *Memory) Live() bool { return m.InvalidatedAt == nil }

// MemoryEntityLink records that a memory is "about" (or otherwise related to) an entity.
type MemoryEntityLink struct {
	MemoryID     int64
	EntityID     int64
	Relationship string
}

// RelationshipDirection describes whether an edge is traversed one-way or both ways.
type RelationshipDirection string

const (
	DirectionUnidirectional RelationshipDirection = "unidirectional"
	DirectionBidirectional  RelationshipDirection = "bidirectional"
)

// OriginType records how a relationship was learned, which bounds its maximum strength.
type OriginType string

const (
	OriginUserStated OriginType = "user_stated"
	OriginCorrected  OriginType = "corrected"
	OriginExtracted  OriginType = "extracted"
	OriginInferred   OriginType = "inferred"
	OriginUnknown    OriginType = "unknown"
)

// Relationship is a directed, strength-weighted edge between two entities.
type Relationship struct {
	ID               int64
	SourceEntityID   int64
	TargetEntityID   int64
	RelationshipType string
	Direction        RelationshipDirection
	Strength         float64
	OriginType       OriginType
	ValidAt          time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Episode groups buffered conversational turns belonging to one session.
type Episode struct {
	ID           int64
	SessionID    string
	StartedAt    time.Time
	EndedAt      *time.Time
	TurnCount    int
	IsSummarized bool
	Narrative    string
}

// Turn is one exchange buffered into an episode, pending summarization.
type Turn struct {
	ID                int64
	EpisodeID         int64
	TurnNumber        int
	UserContent       string
	AssistantContent  string
	CreatedAt         time.Time
}

// Reflection is a first-class observation/pattern/learning/question with its own decay.
type Reflection struct {
	ID                int64
	Content           string
	ReflectionType     string
	Importance        float64
	DecayRate         float64
	AggregationCount  int
	FirstObservedAt   time.Time
	LastConfirmedAt   time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Prediction is a surfaced forecast the engine offers to the assistant process.
type Prediction struct {
	ID                     int64
	Content                string
	PredictionType         string
	Priority               float64
	IsShown                bool
	IsActedOn              bool
	PredictionPatternName  string
	Metadata               map[string]any
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DispatchTier distinguishes delegated-task records from native-team assignments.
type DispatchTier string

const (
	DispatchTask       DispatchTier = "task"
	DispatchNativeTeam DispatchTier = "native_team"
)

// AgentDispatch records a unit of delegated work originating from the engine.
type AgentDispatch struct {
	ID          int64
	Tier        DispatchTier
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// AuditEntry is one row of the append-only audit_log table.
type AuditEntry struct {
	ID            int64
	Timestamp     time.Time
	Operation     string
	EntityID      *int64
	MemoryID      *int64
	SessionID     string
	UserInitiated bool
	Details       map[string]any
}

// MetricSample is one row of the metrics time series.
type MetricSample struct {
	Timestamp   time.Time
	MetricName  string
	MetricValue float64
	Dimensions  map[string]any
}

// RecallResult is one entry in a ranked recall response.
type RecallResult struct {
	ID            int64
	Content       string
	Type          MemoryType
	Score         float64
	Importance    float64
	CreatedAt     time.Time
	Entities      []string
	SourceChannel string
}
