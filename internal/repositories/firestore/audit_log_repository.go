package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const (
	auditLogsCollection  = "auditLogs"
	defaultAuditListSize = 50
)

// AuditLogRepository appends immutable audit entries.
type AuditLogRepository struct {
	base *pfirestore.BaseRepository[auditLogDocument]
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs the repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{base: pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogsCollection)}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	doc := auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  entry.Metadata,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt,
	}
	if len(entry.Diff) > 0 {
		doc.Diff = make(map[string]auditDiffDocument, len(entry.Diff))
		for field, change := range entry.Diff {
			doc.Diff[field] = auditDiffDocument(change)
		}
	}
	return r.base.Create(ctx, id, doc)
}

// ListByTarget returns the newest entries for a target first.
func (r *AuditLogRepository) ListByTarget(ctx context.Context, targetRef string, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = defaultAuditListSize
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("targetRef", "==", strings.TrimSpace(targetRef)).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return entries, nil
}

type auditLogDocument struct {
	Actor     string                       `firestore:"actor"`
	ActorType string                       `firestore:"actorType"`
	Action    string                       `firestore:"action"`
	TargetRef string                       `firestore:"targetRef"`
	Metadata  map[string]any               `firestore:"metadata,omitempty"`
	Diff      map[string]auditDiffDocument `firestore:"diff,omitempty"`
	RequestID string                       `firestore:"requestId,omitempty"`
	CreatedAt time.Time                    `firestore:"createdAt"`
}

type auditDiffDocument struct {
	Before any `firestore:"before"`
	After  any `firestore:"after"`
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	entry := domain.AuditLogEntry{
		ID:        id,
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Metadata:  d.Metadata,
		RequestID: d.RequestID,
		CreatedAt: d.CreatedAt,
	}
	if len(d.Diff) > 0 {
		entry.Diff = make(map[string]domain.AuditLogDiff, len(d.Diff))
		for field, change := range d.Diff {
			entry.Diff[field] = domain.AuditLogDiff(change)
		}
	}
	return entry
}
