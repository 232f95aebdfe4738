package storage

import (
	"context"
	"errors"
	"time"

	"github.com/user/qcw_analyzer_go/internal/analysis"
	"github.com/user/qcw_analyzer_go/internal/parser"
)

// ErrNotFound is returned when a session id does not exist (or has been
// cleaned up).
var ErrNotFound = errors.New("session not found")

// Session is one upload-and-analyze exchange. Mapping and Report stay nil
// until the caller has supplied the machine name mapping and the engine
// has run.
type Session struct {
	ID         string                `json:"id"`
	CreatedAt  time.Time             `json:"created_at"`
	SourcePath string                `json:"source_path"`
	Worklists  []parser.WorklistInfo `json:"worklists"`
	Mapping    map[string]string     `json:"mapping,omitempty"`
	Report     *analysis.Report      `json:"report,omitempty"`
}

// Store persists sessions between the upload, mapping, and report requests.
type Store interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// Cleanup removes sessions older than the retention window and returns
	// the source file paths of the removed sessions so the caller can
	// delete the uploads.
	Cleanup(ctx context.Context, olderThan time.Duration) ([]string, error)
	Close() error
}
