package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

const alertSendTimeout = 10 * time.Second

// SESClient is the slice of the SES API used for alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// BlockAlertService e-mails operators when an address is blocked. It is
// registered as an ipguard hook.
type BlockAlertService struct {
	sesClient   SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewBlockAlertService creates an alert service backed by AWS SES
func NewBlockAlertService(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*BlockAlertService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewBlockAlertServiceWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

// NewBlockAlertServiceWithClient creates an alert service around an existing client
func NewBlockAlertServiceWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *BlockAlertService {
	return &BlockAlertService{
		sesClient:   client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// HandleEvent sends one alert per new block. Unblocks are ignored.
func (s *BlockAlertService) HandleEvent(ctx context.Context, event ipguard.Event) {
	if event.Type != ipguard.EventBlocked || event.Record == nil || len(s.recipients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
	defer cancel()

	rec := event.Record
	subject := fmt.Sprintf("IP %s blocked (%s)", rec.IP, rec.Reason)
	body := fmt.Sprintf(`An address was blocked.

IP: %s
Reason: %s
Blocked at: %s
Blocked until: %s
Failed attempts: %d
User agent: %s
Attempted e-mails: %s
`,
		rec.IP,
		rec.Reason.Description(),
		rec.BlockedAt.UTC().Format(time.RFC3339),
		rec.BlockedUntil.UTC().Format(time.RFC3339),
		rec.FailedAttemptsCount,
		rec.UserAgent,
		strings.Join(pkglogger.SanitizedEmails(rec.AttemptedEmails), ", "),
	)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send block alert via SES",
			slog.String("ip", rec.IP),
			slog.Any("error", err))
		return
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	s.logger.Info("block alert sent",
		slog.String("ip", rec.IP),
		slog.String("message_id", messageID))
}

var _ ipguard.Hook = (*BlockAlertService)(nil)
