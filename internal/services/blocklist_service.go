package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// BlockRegistry is the block state the blocklist service manages
type BlockRegistry interface {
	BlockStatus(ctx context.Context, ip string) (*models.BlockRecord, bool, error)
	BlockHoneypot(ctx context.Context, ip, userAgent string) (*models.BlockRecord, error)
	Unblock(ctx context.Context, ip, actor string) (bool, error)
	ListActive(ctx context.Context) ([]*models.BlockRecord, error)
	Now() time.Time
}

// BlocklistService answers block checks, springs honeypot traps and serves
// the administrative block views
type BlocklistService struct {
	registry    BlockRegistry
	metrics     SecurityMetrics
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewBlocklistService creates a new BlocklistService. metrics may be nil.
func NewBlocklistService(registry BlockRegistry, metrics SecurityMetrics, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *BlocklistService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &BlocklistService{
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// CheckBlocked reports whether ip is blocked and, if so, the message to show
// the client
func (s *BlocklistService) CheckBlocked(ctx context.Context, ip string) (string, bool, error) {
	rec, blocked, err := s.registry.BlockStatus(ctx, ip)
	if err != nil || !blocked {
		return "", false, err
	}
	return models.BlockedMessage(rec.Reason, rec.RemainingSeconds(s.registry.Now())), true, nil
}

// TrapHoneypot blocks ip for touching a decoy path. Failures are logged and
// swallowed so the decoy response never changes.
func (s *BlocklistService) TrapHoneypot(ctx context.Context, ip, path, userAgent string) {
	s.auditLogger.LogHoneypot(ip, path, userAgent)
	s.metrics.HoneypotHit()

	rec, err := s.registry.BlockHoneypot(ctx, ip, userAgent)
	if err != nil {
		s.logger.Error("failed to block honeypot client", slog.String("ip", ip), slog.String("error", err.Error()))
		return
	}

	s.auditLogger.LogBlock(pkglogger.BlockEvent{
		IPAddress:    rec.IP,
		Reason:       string(rec.Reason),
		BlockedUntil: rec.BlockedUntil,
		UserAgent:    rec.UserAgent,
	})
}

// ListBlocked returns every active block, oldest first
func (s *BlocklistService) ListBlocked(ctx context.Context) (*models.BlockedIPsResponse, error) {
	records, err := s.registry.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list blocked ips", slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	now := s.registry.Now()
	resp := &models.BlockedIPsResponse{
		BlockedIPs: make([]models.BlockedIPResponse, 0, len(records)),
		Count:      len(records),
	}
	for _, rec := range records {
		resp.BlockedIPs = append(resp.BlockedIPs, models.NewBlockedIPResponse(rec, now))
	}
	return resp, nil
}

// Unblock lifts the block on ip. It returns models.ErrNotFound when ip has no
// active block.
func (s *BlocklistService) Unblock(ctx context.Context, ip, adminID string) error {
	existed, err := s.registry.Unblock(ctx, ip, adminID)
	if err != nil {
		s.logger.Error("failed to unblock ip", slog.String("ip", ip), slog.String("error", err.Error()))
		return models.ErrInternalServer
	}

	s.auditLogger.LogUnblock(ip, adminID, existed)
	if !existed {
		return models.ErrNotFound
	}
	return nil
}
