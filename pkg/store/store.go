package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MaxQuerySize is the hard ceiling on a single result page, regardless of
// the client-requested limit.
const MaxQuerySize = 500

// Sentinel errors for callers that need to branch on failure kind.
var (
	// ErrRunExists is returned when a run name is taken and neither update
	// nor overwrite was requested.
	ErrRunExists = errors.New("run already exists")

	// ErrNotFound wraps gorm's record-not-found for user-facing lookups.
	ErrNotFound = gorm.ErrRecordNotFound
)

// DiffType selects which side of a two-run comparison to return.
type DiffType int

// Diff result categories.
const (
	DiffNew DiffType = iota
	DiffResolved
	DiffUnresolved
)

// PathEvent is one incoming bug-path event of a report being stored.
type PathEvent struct {
	FileID    uint   `json:"file_id"`
	Msg       string `json:"msg"`
	LineBegin int    `json:"line_begin"`
	ColBegin  int    `json:"col_begin"`
	LineEnd   int    `json:"line_end"`
	ColEnd    int    `json:"col_end"`
}

// PathPoint is one incoming control-flow position of a report being stored.
type PathPoint struct {
	FileID    uint `json:"file_id"`
	LineBegin int  `json:"line_begin"`
	ColBegin  int  `json:"col_begin"`
	LineEnd   int  `json:"line_end"`
	ColEnd    int  `json:"col_end"`
}

// ReportInput carries one parsed diagnostic into AddReport.
type ReportInput struct {
	FileID     uint        `json:"file_id"`
	BugHash    string      `json:"bug_hash"`
	CheckerID  string      `json:"checker_id"`
	CheckerCat string      `json:"checker_cat"`
	BugType    string      `json:"bug_type"`
	Severity   Severity    `json:"severity"`
	Msg        string      `json:"msg"`
	Events     []PathEvent `json:"events"`
	Path       []PathPoint `json:"path"`

	// Suppress marks the report suppressed on insert (e.g. a source-comment
	// suppression found by the client). OR'd with stored SuppressBug records.
	Suppress bool `json:"suppress"`
}

// ReportData is the presentation shape of a stored report.
type ReportData struct {
	ReportID        uint     `json:"report_id"`
	RunID           uint     `json:"run_id"`
	BugHash         string   `json:"bug_hash"`
	CheckedFile     string   `json:"checked_file"`
	FileID          uint     `json:"file_id"`
	CheckerID       string   `json:"checker_id"`
	CheckerCat      string   `json:"checker_cat"`
	BugType         string   `json:"bug_type"`
	Severity        Severity `json:"severity"`
	CheckerMsg      string   `json:"checker_msg"`
	DetectionStatus string   `json:"detection_status"`
	Suppressed      bool     `json:"suppressed"`

	// Line and Column point at the last bug-path event.
	Line   int `json:"line"`
	Column int `json:"column"`

	Events []BugPathEvent   `json:"events,omitempty"`
	Path   []BugReportPoint `json:"path,omitempty"`
}

// ReportTypeCount is one row of a per-checker result breakdown.
type ReportTypeCount struct {
	CheckerID string   `json:"checker_id"`
	Severity  Severity `json:"severity"`
	Count     int64    `json:"count"`
}

// RunData is the presentation shape of a run listing entry.
type RunData struct {
	Run
	ResultCount int64 `json:"result_count"`
}

// ReportFilter restricts a result listing. Fields left zero/nil do not
// constrain. A slice of filters is OR'd together; fields within one filter
// are AND'd.
type ReportFilter struct {
	FilePath   string    `json:"file_path,omitempty"`
	CheckerID  string    `json:"checker_id,omitempty"`
	CheckerMsg string    `json:"checker_msg,omitempty"`
	BugHash    string    `json:"bug_hash,omitempty"`
	Severity   *Severity `json:"severity,omitempty"`
	Suppressed *bool     `json:"suppressed,omitempty"`
}

// SortType names a result listing sort key.
type SortType string

// Supported sort keys.
const (
	SortFilename        SortType = "filename"
	SortCheckerName     SortType = "checker_name"
	SortSeverity        SortType = "severity"
	SortDetectionStatus SortType = "detection_status"
)

// SortMode pairs a sort key with a direction.
type SortMode struct {
	Type SortType `json:"type"`
	Desc bool     `json:"desc"`
}

// MirrorFunc is invoked inside the suppression transaction with the
// affected records. Returning an error rolls the database change back, so
// the external suppress file and the database never diverge.
type MirrorFunc func(records []SuppressBug) error

// Store provides persistence for analysis runs, reports, and suppressions.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Runs.
	AddCheckerRun(
		ctx context.Context, command, name, version string, update bool,
	) (uint, error)
	FinishCheckerRun(ctx context.Context, runID uint) (bool, error)
	GetRun(ctx context.Context, runID uint) (*Run, error)
	ListRuns(ctx context.Context) ([]RunData, error)
	RemoveRunResults(ctx context.Context, runIDs []uint) (bool, error)
	SetRunSkipPaths(
		ctx context.Context, runID uint, paths map[string]string,
	) error
	GetRunSkipPaths(ctx context.Context, runID uint) ([]SkipPath, error)

	// File contents.
	NeedFileContent(
		ctx context.Context, runID uint, path string,
	) (bool, uint, error)
	AddFileContent(ctx context.Context, fileID uint, content []byte) error
	GetFileContent(ctx context.Context, fileID uint) ([]byte, error)

	// Build actions.
	AddBuildAction(
		ctx context.Context,
		runID uint,
		buildCmdHash, checkCmd, analyzerType, sourceFile string,
	) (uint, error)
	FinishBuildAction(
		ctx context.Context, actionID uint, failure string,
	) (bool, error)

	// Reports.
	AddReport(
		ctx context.Context, buildActionID uint, input *ReportInput,
	) (uint, error)
	GetReport(ctx context.Context, reportID uint) (*ReportData, error)
	GetRunResults(
		ctx context.Context,
		runID uint,
		limit, offset int,
		sort []SortMode,
		filters []ReportFilter,
	) ([]ReportData, error)
	GetRunResultCount(
		ctx context.Context, runID uint, filters []ReportFilter,
	) (int64, error)
	GetRunResultTypes(
		ctx context.Context, runID uint, filters []ReportFilter,
	) ([]ReportTypeCount, error)

	// Suppression.
	SuppressBug(
		ctx context.Context,
		runIDs []uint,
		reportID uint,
		comment string,
		mirror MirrorFunc,
	) (bool, error)
	UnSuppressBug(
		ctx context.Context,
		runIDs []uint,
		reportID uint,
		mirror MirrorFunc,
	) (bool, error)
	GetSuppressedBugs(ctx context.Context, runID uint) ([]SuppressBug, error)
	AddSuppressBugs(
		ctx context.Context, runID uint, records []SuppressBug,
	) error
	CleanSuppressData(ctx context.Context, runID uint) error

	// Run diffing.
	GetDiffResults(
		ctx context.Context,
		baseRunID, newRunID uint,
		diffType DiffType,
		limit, offset int,
		sort []SortMode,
		filters []ReportFilter,
	) ([]ReportData, error)
	GetDiffResultCount(
		ctx context.Context,
		baseRunID, newRunID uint,
		diffType DiffType,
		filters []ReportFilter,
	) (int64, error)
	GetDiffResultTypes(
		ctx context.Context,
		baseRunID, newRunID uint,
		diffType DiffType,
		filters []ReportFilter,
	) ([]ReportTypeCount, error)

	// Users and sessions.
	SeedUsers(ctx context.Context, users []config.AuthUser) error
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,

		// Duplicate-key races in AddReport rely on translated errors.
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&File{},
		&FileContent{},
		&BuildAction{},
		&Report{},
		&BugPathEvent{},
		&BugReportPoint{},
		&ReportBuildAction{},
		&SuppressBug{},
		&SkipPath{},
		&User{},
		&Session{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}
