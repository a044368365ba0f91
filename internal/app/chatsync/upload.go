package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chatsync/internal/domain/chat"
)

// OrphanedUploadError is returned when files were stored but the message
// referencing them could not be created. The files stay on the server.
type OrphanedUploadError struct {
	ConversationID string
	Attachments    []chat.Attachment
	Err            error
}

func (e *OrphanedUploadError) Error() string {
	return fmt.Sprintf("uploaded %d file(s) to %s but message create failed: %v", len(e.Attachments), e.ConversationID, e.Err)
}

func (e *OrphanedUploadError) Unwrap() error { return e.Err }

// UploadPipeline stores files and then announces them with a file message.
// The two steps are not transactional.
type UploadPipeline struct {
	API     AttachmentUploader
	Send    *SendPipeline
	Logger  *slog.Logger
	Metrics Metrics
	// RetryMaxElapsed enables exponential backoff on the message-create step
	// only. Zero disables retries.
	RetryMaxElapsed time.Duration
	// RetryIf decides which send errors are retried. Nil retries everything
	// except validation errors and errors whose Temporary method says no.
	RetryIf func(error) bool
}

// Upload sends files to target's conversation and posts a message that
// references them.
func (p *UploadPipeline) Upload(ctx context.Context, target Target, files []chat.File) (chat.Message, error) {
	conversationID := strings.TrimSpace(target.ConversationID)
	if conversationID == "" {
		return chat.Message{}, chat.ErrNoConversation
	}
	if len(files) == 0 {
		return chat.Message{}, fmt.Errorf("no files: %w", chat.ErrInvalidInput)
	}
	if p.API == nil || p.Send == nil {
		return chat.Message{}, ErrNotConfigured
	}
	metrics := metricsOrNop(p.Metrics)

	attachments, err := p.API.UploadAttachments(ctx, conversationID, files)
	if err != nil {
		metrics.UploadCompleted(err, false)
		return chat.Message{}, fmt.Errorf("upload attachments: %w", err)
	}

	draft := Draft{
		Text:        UploadSummary(len(attachments)),
		Type:        chat.MessageTypeFile,
		Attachments: attachments,
	}
	msg, err := p.sendWithRetry(ctx, target, draft)
	if err != nil {
		metrics.UploadCompleted(err, true)
		if p.Logger != nil {
			p.Logger.Warn("attachments orphaned", "conversation_id", conversationID, "files", len(attachments), "error", err)
		}
		return chat.Message{}, &OrphanedUploadError{
			ConversationID: conversationID,
			Attachments:    attachments,
			Err:            err,
		}
	}
	metrics.UploadCompleted(nil, false)
	return msg, nil
}

func (p *UploadPipeline) sendWithRetry(ctx context.Context, target Target, draft Draft) (chat.Message, error) {
	if p.RetryMaxElapsed <= 0 {
		return p.Send.Send(ctx, target, draft)
	}
	retryIf := p.RetryIf
	if retryIf == nil {
		retryIf = retryableSend
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = p.RetryMaxElapsed
	return backoff.RetryWithData(func() (chat.Message, error) {
		msg, err := p.Send.Send(ctx, target, draft)
		if err != nil && !retryIf(err) {
			return chat.Message{}, backoff.Permanent(err)
		}
		return msg, err
	}, backoff.WithContext(policy, ctx))
}

// retryableSend rejects validation failures and defers to errors that
// classify themselves through Temporary. Anything else, such as a dropped
// connection, is retried.
func retryableSend(err error) bool {
	if errors.Is(err, chat.ErrEmptyMessage) ||
		errors.Is(err, chat.ErrNoConversation) ||
		errors.Is(err, chat.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// UploadSummary is the body of the message that announces uploaded files.
func UploadSummary(n int) string {
	return fmt.Sprintf("Sent %d file(s)", n)
}
