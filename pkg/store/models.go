package store

import (
	"strings"
	"time"
)

// Severity classifies a report by checker severity.
type Severity int

// Severity levels, ordered from unknown to most severe.
const (
	SeverityUnspecified Severity = iota
	SeverityStyle
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase name of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityStyle:
		return "style"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unspecified"
	}
}

// ParseSeverity maps a severity name to its level. Unknown names map to
// SeverityUnspecified.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(name) {
	case "style":
		return SeverityStyle
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityUnspecified
	}
}

// Detection status values track how a report relates to earlier runs of
// the same analysis.
const (
	DetectionStatusNew        = "new"
	DetectionStatusUnresolved = "unresolved"
	DetectionStatusResolved   = "resolved"
	DetectionStatusReopened   = "reopened"
)

// Run represents one static-analysis invocation.
type Run struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	StartDate time.Time `json:"start_date"`

	// Duration is -1 while the run is unfinished.
	Duration int64  `json:"duration"`
	Version  string `json:"version"`
	Command  string `json:"command"`

	// IncCount increments each time the run is reused incrementally.
	IncCount int `json:"inc_count"`

	// CanDelete guards against two concurrent deletions of the same run.
	CanDelete bool `gorm:"default:true" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File is a source file path scoped to a run, pointing at its
// content-addressed body.
type File struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RunID       uint   `gorm:"not null;uniqueIndex:idx_files_run_path" json:"run_id"`
	Filepath    string `gorm:"not null;uniqueIndex:idx_files_run_path" json:"filepath"`
	ContentHash string `gorm:"index" json:"content_hash"`

	// IncCount mirrors Run.IncCount; content is refetched only when it lags.
	IncCount int `json:"inc_count"`
}

// FileContent is a zlib-compressed source body keyed by content hash, so
// identical bodies across files and runs are stored once.
type FileContent struct {
	ContentHash string    `gorm:"primaryKey" json:"content_hash"`
	Content     []byte    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// BuildAction is one analyzed compilation unit within a run.
type BuildAction struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	RunID              uint      `gorm:"index;not null" json:"run_id"`
	BuildCmdHash       string    `gorm:"index" json:"build_cmd_hash"`
	CheckCmd           string    `json:"check_cmd"`
	AnalyzerType       string    `json:"analyzer_type"`
	AnalyzedSourceFile string    `json:"analyzed_source_file"`
	FailureTxt         string    `json:"failure_txt"`
	StartDate          time.Time `json:"start_date"`

	// Duration is -1 until FinishBuildAction.
	Duration int64 `json:"duration"`
}

// Report is one stored defect instance.
type Report struct {
	ID    uint `gorm:"primaryKey" json:"id"`
	RunID uint `gorm:"not null;uniqueIndex:idx_reports_identity" json:"run_id"`

	// BugHash is not globally unique; colliding reports are disambiguated
	// by checker, file, and the full event sequence.
	BugHash   string `gorm:"not null;index;uniqueIndex:idx_reports_identity" json:"bug_hash"`
	CheckerID string `gorm:"uniqueIndex:idx_reports_identity" json:"checker_id"`
	FileID    uint   `gorm:"uniqueIndex:idx_reports_identity" json:"file_id"`

	// EventDigest is a digest of the ordered event sequence. It exists only
	// to give the dedup race a real uniqueness constraint to trip over.
	EventDigest string `gorm:"uniqueIndex:idx_reports_identity" json:"-"`

	CheckerCat      string   `json:"checker_cat"`
	BugType         string   `json:"bug_type"`
	Severity        Severity `gorm:"index" json:"severity"`
	CheckerMsg      string   `json:"checker_msg"`
	DetectionStatus string   `gorm:"index" json:"detection_status"`
	Suppressed      bool     `gorm:"index" json:"suppressed"`

	Events []BugPathEvent   `gorm:"foreignKey:ReportID" json:"events,omitempty"`
	Path   []BugReportPoint `gorm:"foreignKey:ReportID" json:"path,omitempty"`
}

// BugPathEvent is one step of a report's message trail, rank-ordered by
// Position within its owning report.
type BugPathEvent struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	ReportID uint   `gorm:"index;not null" json:"-"`
	Position int    `gorm:"not null" json:"position"`
	FileID   uint   `gorm:"index" json:"file_id"`
	Msg      string `json:"msg"`

	LineBegin int `json:"line_begin"`
	ColBegin  int `json:"col_begin"`
	LineEnd   int `json:"line_end"`
	ColEnd    int `json:"col_end"`
}

// BugReportPoint is one step of a report's control-flow path.
type BugReportPoint struct {
	ID       uint `gorm:"primaryKey" json:"-"`
	ReportID uint `gorm:"index;not null" json:"-"`
	Position int  `gorm:"not null" json:"position"`
	FileID   uint `gorm:"index" json:"file_id"`

	LineBegin int `json:"line_begin"`
	ColBegin  int `json:"col_begin"`
	LineEnd   int `json:"line_end"`
	ColEnd    int `json:"col_end"`
}

// ReportBuildAction links reports to the build actions that produced them.
// The same report may be rediscovered by several actions in one run.
type ReportBuildAction struct {
	ReportID      uint `gorm:"primaryKey" json:"report_id"`
	BuildActionID uint `gorm:"primaryKey;index" json:"build_action_id"`
}

// SuppressBug is a per-run suppression record, matched against reports by
// bug hash and source file basename. An empty FileName is a legacy record
// matching any file.
type SuppressBug struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	RunID    uint   `gorm:"not null;uniqueIndex:idx_suppress_run_hash_file" json:"run_id"`
	BugHash  string `gorm:"not null;uniqueIndex:idx_suppress_run_hash_file" json:"bug_hash"`
	FileName string `gorm:"uniqueIndex:idx_suppress_run_hash_file" json:"file_name"`
	HashType int    `json:"hash_type"`
	Comment  string `json:"comment"`
}

// SkipPath is a per-run glob excluding matching source files from storage.
type SkipPath struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	RunID   uint   `gorm:"index;not null" json:"run_id"`
	Path    string `gorm:"not null" json:"path"`
	Comment string `json:"comment"`
}

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an active user session.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}
