package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopfront/api/internal/repositories"
)

const (
	defaultActorType    = "unknown"
	defaultHasherPrefix = "sha256:"
	defaultAuditLimit   = 50
	maxAuditLimit       = 200
)

var defaultSensitiveAuditKeys = []string{"email", "phone"}

type auditLogService struct {
	repo      repositories.AuditLogRepository
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	hashSalt  string
	sensitive map[string]struct{}
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	HashSalt   string
	// SensitiveKeys are metadata and diff keys stored as salted hashes. Defaults to email and phone.
	SensitiveKeys []string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	keys := deps.SensitiveKeys
	if keys == nil {
		keys = defaultSensitiveAuditKeys
	}
	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key = strings.ToLower(sanitizeMetadataKey(key)); key != "" {
			sensitive[key] = struct{}{}
		}
	}

	return &auditLogService{
		repo:      deps.Repository,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		hashSalt:  deps.HashSalt,
		sensitive: sensitive,
	}, nil
}

// Record persists an audit log entry after sanitising sensitive fields. Repository failures are
// logged but do not bubble up to callers so the primary mutation is never interrupted.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action":    entry.Action,
			"targetRef": entry.TargetRef,
			"error":     err.Error(),
		})
	}
}

func (s *auditLogService) ListByTarget(ctx context.Context, targetRef string, limit int) ([]AuditLogEntry, error) {
	targetRef = sanitizeTargetRef(targetRef)
	if targetRef == "" {
		return nil, errors.New("audit log service: target ref is required")
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)
	entries, err := s.repo.ListByTarget(ctx, targetRef, limit)
	if err != nil {
		return nil, mapRepositoryError(err, nil, nil)
	}
	return entries, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	entry := AuditLogEntry{
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    sanitizeText(record.Action, 120),
		TargetRef: sanitizeTargetRef(record.TargetRef),
		RequestID: sanitizeText(record.RequestID, 128),
		CreatedAt: occurred,
	}

	if len(record.Metadata) > 0 {
		meta := make(map[string]any, len(record.Metadata))
		for key, value := range record.Metadata {
			key = sanitizeMetadataKey(key)
			if key == "" {
				continue
			}
			meta[key] = s.prepareValue(key, value)
		}
		entry.Metadata = meta
	}

	if len(record.Diff) > 0 {
		diff := make(map[string]AuditLogDiff, len(record.Diff))
		for key, change := range record.Diff {
			key = sanitizeMetadataKey(key)
			if key == "" {
				continue
			}
			diff[key] = AuditLogDiff{
				Before: s.prepareValue(key, change.Before),
				After:  s.prepareValue(key, change.After),
			}
		}
		entry.Diff = diff
	}
	return entry
}

func (s *auditLogService) prepareValue(key string, value any) any {
	if _, ok := s.sensitive[strings.ToLower(key)]; ok && value != nil {
		return defaultHasherPrefix + s.hashAny(value)
	}
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func (s *auditLogService) hashAny(value any) string {
	var raw string
	switch v := value.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case fmt.Stringer:
		raw = strings.TrimSpace(v.String())
	default:
		b, err := json.Marshal(v)
		if err != nil {
			b = []byte(fmt.Sprintf("%T", value))
		}
		raw = string(b)
	}
	sum := sha256.Sum256([]byte(s.hashSalt + raw))
	return hex.EncodeToString(sum[:])
}

func normalizeActorType(actorType string, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case "user", "staff", "admin", "system", "service":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case strings.HasPrefix(actor, "user:"):
		return "user"
	case strings.HasPrefix(actor, "staff:"):
		return "staff"
	case actor == "system" || strings.HasPrefix(actor, "system:"):
		return "system"
	default:
		return defaultActorType
	}
}

func sanitizeTargetRef(target string) string {
	return sanitizeText(target, 200)
}

func sanitizeMetadataKey(key string) string {
	return sanitizeText(strings.TrimSpace(key), 80)
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
