package assessment

import (
	"context"
	"io"

	"github.com/mind-engage/psyportal/internal/scoring"
)

// Store is the persistence boundary used by the HTTP handlers. Tests are
// addressed by id or slug.
type Store interface {
	ListTests(ctx context.Context, opts ListOpts) ([]TestSummary, error)
	GetTest(ctx context.Context, idOrSlug string) (Test, error)
	CreateTest(ctx context.Context, t Test, actor string) (Test, error)
	// UpdateTest replaces metadata, subskalas and questions. Structural
	// changes are refused once results exist.
	UpdateTest(ctx context.Context, idOrSlug string, t Test, actor string) (Test, error)
	SetPublished(ctx context.Context, idOrSlug string, published bool, actor string) (Test, error)
	DeleteTest(ctx context.Context, idOrSlug string, actor string) error

	AddSubskala(ctx context.Context, testID string, s Subskala, actor string) (Subskala, error)
	UpdateSubskala(ctx context.Context, testID string, s Subskala, actor string) (Subskala, error)
	DeleteSubskala(ctx context.Context, testID, subskalaID, actor string) error

	AddQuestion(ctx context.Context, testID string, q Question, actor string) (Question, error)
	UpdateQuestion(ctx context.Context, testID string, q Question, actor string) (Question, error)
	DeleteQuestion(ctx context.Context, testID, questionID, actor string) error

	SubmitResult(ctx context.Context, testID, userID string, answers map[string]scoring.Answer) (Result, error)
	ListResults(ctx context.Context, opts ResultListOpts) ([]Result, error)
	GetResult(ctx context.Context, id string) (Result, error)
	DeleteResult(ctx context.Context, id string) error
	ExportResults(ctx context.Context, testID string, w io.Writer) error
}
