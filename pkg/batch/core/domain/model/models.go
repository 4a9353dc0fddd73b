package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
)

// RunMode selects which stages may be skipped automatically.
type RunMode string

const (
	RunModeFull    RunMode = "FULL"
	RunModePartial RunMode = "PARTIAL"
)

// String returns the string representation of the RunMode.
func (m RunMode) String() string {
	return string(m)
}

// ParseRunMode converts a case-insensitive string into a RunMode.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(strings.ToUpper(strings.TrimSpace(s))) {
	case RunModeFull, "":
		return RunModeFull, nil
	case RunModePartial:
		return RunModePartial, nil
	default:
		return "", fmt.Errorf("invalid run mode %q: expected FULL or PARTIAL", s)
	}
}

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// StageStatus represents the state of one (batch, entity, stage) record.
type StageStatus string

const (
	// StageStatusPending is implicit: no record exists yet.
	StageStatusPending StageStatus = "PENDING"
	StageStatusRunning StageStatus = "RUNNING"
	StageStatusDone    StageStatus = "DONE"
	StageStatusError   StageStatus = "ERROR"
)

// String returns the string representation of the StageStatus.
func (s StageStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status ends a stage attempt.
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusDone || s == StageStatusError
}

// CanTransitionTo reports whether a record in status s may be overwritten with next.
// DONE is sticky; writing DONE again is an idempotent no-op.
func (s StageStatus) CanTransitionTo(next StageStatus) bool {
	switch s {
	case StageStatusDone:
		return next == StageStatusDone
	case StageStatusPending, StageStatusRunning, StageStatusError:
		return next == StageStatusRunning || next.IsTerminal()
	default:
		return false
	}
}

// Stage is one named step of the pipeline.
type Stage string

const (
	StageCollect  Stage = "COLLECT"
	StageConvert  Stage = "CONVERT"
	StageImage    Stage = "IMAGE"
	StagePrice    Stage = "PRICE"
	StageRegister Stage = "REGISTER"
)

// String returns the string representation of the Stage.
func (s Stage) String() string {
	return string(s)
}

// AllStages is the fixed, totally ordered stage sequence.
var AllStages = StageList{StageCollect, StageConvert, StageImage, StagePrice, StageRegister}

// StageList is an ordered list of stages.
type StageList []Stage

// Index returns the position of stage in the list, or -1.
func (l StageList) Index(stage Stage) int {
	for i, s := range l {
		if s == stage {
			return i
		}
	}
	return -1
}

// Contains reports whether stage is part of the list.
func (l StageList) Contains(stage Stage) bool {
	return l.Index(stage) >= 0
}

// Until returns the prefix of l ending at the stage named until (case-insensitive).
// An empty name returns a copy of the whole list.
func (l StageList) Until(until string) (StageList, error) {
	if strings.TrimSpace(until) == "" {
		return append(StageList(nil), l...), nil
	}
	idx := l.Index(Stage(strings.ToUpper(strings.TrimSpace(until))))
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s (valid: %s)", exception.ErrUnknownStage, until, l.String())
	}
	return append(StageList(nil), l[:idx+1]...), nil
}

// Final returns the last stage of the list, the stage batch success is measured against.
func (l StageList) Final() Stage {
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

// String joins the stage names with arrows.
func (l StageList) String() string {
	names := make([]string, len(l))
	for i, s := range l {
		names[i] = string(s)
	}
	return strings.Join(names, " -> ")
}

// Batch is one end-to-end run across all target entities.
type Batch struct {
	ID              string
	RunMode         RunMode
	Status          BatchStatus
	FinalStage      Stage
	TotalEntities   int
	SuccessEntities int
	StartTime       time.Time
	EndTime         *time.Time
}

// IsRunning reports whether the batch has not been finalised yet.
func (b *Batch) IsRunning() bool {
	return b.Status == BatchStatusRunning
}

// StageRecord is the persisted status of one stage for one entity in one batch.
type StageRecord struct {
	BatchID      string
	EntityKey    string
	Stage        Stage
	Status       StageStatus
	ErrorMessage string
	StartedAt    *time.Time
	UpdatedAt    time.Time
}

// Entity is a unit of work driven through the pipeline (a brand of a mall).
type Entity struct {
	// Mall is the source shop the brand is collected from.
	Mall string
	// SourceName is the brand name on the source catalog.
	SourceName string
	// DestinationName is the brand name on the destination marketplace; empty means SourceName.
	DestinationName string
}

// Key returns the stable identifier used in stage records.
func (e Entity) Key() string {
	if e.Mall == "" {
		return e.SourceName
	}
	return e.Mall + "/" + e.SourceName
}

// Destination returns the marketplace name, falling back to the source name.
func (e Entity) Destination() string {
	if strings.TrimSpace(e.DestinationName) == "" {
		return e.SourceName
	}
	return e.DestinationName
}

// EntityFilter restricts the enumerated entities. It is applied once at batch start.
type EntityFilter struct {
	// Mall keeps only entities of this mall when set.
	Mall string
	// Brand keeps only the entity whose source name matches (case-insensitive) when set.
	Brand string
	// Exclude drops entities whose source name matches any entry (case-insensitive).
	Exclude []string
}

// Match reports whether e passes the filter.
func (f EntityFilter) Match(e Entity) bool {
	if f.Mall != "" && e.Mall != f.Mall {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(e.SourceName, f.Brand) {
		return false
	}
	for _, ex := range f.Exclude {
		if strings.EqualFold(e.SourceName, strings.TrimSpace(ex)) {
			return false
		}
	}
	return true
}
