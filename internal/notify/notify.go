package notify

import (
	"context"
	"fmt"

	"erpsync/internal/logging"
	"erpsync/internal/models"
	"erpsync/internal/orchestrator"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// failureTaskType is the task type used for escalated failures. The
// dedup key is (failureTaskType, failureContext), so repeated failures
// of the same thing bump one task instead of spamming new ones.
const failureTaskType = "sync_failure"

// Service is the unified failure escalation path: it records the
// failure as an open operator task (deduplicated per context) and, for
// Critical severity, pushes a message to the configured channel.
type Service struct {
	tasks   orchestrator.TaskService
	channel Channel
	logger  zerolog.Logger
}

// Channel delivers a rendered failure message out of process.
type Channel interface {
	Send(ctx context.Context, text string) error
}

func NewService(tasks orchestrator.TaskService, channel Channel, logger *zerolog.Logger) *Service {
	l := logging.Component(logger, "notify")
	return &Service{tasks: tasks, channel: channel, logger: l}
}

// ReportFailure implements the notification contract. A storage error
// while recording the task is returned; a channel delivery error is
// only logged, since the durable task already captured the failure.
func (s *Service) ReportFailure(ctx context.Context, failureContext, message, severity, details, sessionID string) error {
	event := s.logger.Warn()
	if severity == models.SeverityCritical {
		event = s.logger.Error()
	}
	event.
		Str("context", failureContext).
		Str("severity", severity).
		Str("session_id", sessionID).
		Msg(message)

	existing, err := s.tasks.FindOpenTaskByType(ctx, failureTaskType, failureContext)
	if err != nil {
		return fmt.Errorf("dedup lookup for failure %s: %w", failureContext, err)
	}

	if existing != nil {
		note := fmt.Sprintf("recurred in session %s: %s", sessionID, message)
		if err := s.tasks.IncrementOccurrence(ctx, existing.ID, note); err != nil {
			return fmt.Errorf("bump occurrence on failure task %d: %w", existing.ID, err)
		}
	} else {
		task := &models.Task{
			TaskType:  failureTaskType,
			EntityID:  failureContext,
			Title:     fmt.Sprintf("[%s] %s", severity, message),
			Notes:     details,
			SessionID: sessionID,
		}
		if err := s.tasks.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("create failure task for %s: %w", failureContext, err)
		}
	}

	if s.channel != nil && severity == models.SeverityCritical {
		text := fmt.Sprintf("🚨 %s\n%s\nsession: %s\n%s", failureContext, message, sessionID, details)
		if err := s.channel.Send(ctx, text); err != nil {
			s.logger.Error().Err(err).Msg("failed to deliver notification")
		}
	}

	return nil
}

// TelegramChannel sends messages to a fixed operators chat.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID}, nil
}

func (c *TelegramChannel) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
