package journal

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/pkg"
)

// Column widths of domain.JournalEntry.
const (
	maxTargetIDs = 1024
	maxMessage   = 512
)

// journalService implements domain.JournalService.
type journalService struct {
	repo   domain.JournalRepository
	logger *slog.Logger
}

// NewJournalService creates a JournalService. A nil logger falls back to slog.Default.
func NewJournalService(repo domain.JournalRepository, logger *slog.Logger) domain.JournalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &journalService{repo: repo, logger: logger}
}

// Record appends one entry for a mutation. err is the mutation's outcome;
// a failure to write the entry is logged and never reaches the operator.
func (s *journalService) Record(ctx context.Context, resource, action string, ids []int64, err error) {
	entry := &domain.JournalEntry{
		Resource:  resource,
		Action:    action,
		TargetIDs: truncate(joinIDs(ids), maxTargetIDs),
		Outcome:   domain.OutcomeSuccess,
		RequestID: pkg.RequestIDFrom(ctx),
	}
	if err != nil {
		entry.Outcome = domain.OutcomeFailure
		entry.Message = truncate(domain.PublicMessage(err), maxMessage)
	}

	// The mutation already happened; its request may be cancelled by now.
	if werr := s.repo.Create(context.WithoutCancel(ctx), entry); werr != nil {
		s.logger.ErrorContext(ctx, "journal write failed",
			slog.String("resource", resource),
			slog.String("action", action),
			slog.Any("error", werr),
		)
	}
}

// List returns a page of entries.
func (s *journalService) List(ctx context.Context, req domain.PageRequest) (*domain.PageResult[domain.JournalEntry], error) {
	return s.repo.List(ctx, req)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
