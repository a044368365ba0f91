package ginserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"chatsync/internal/domain/chat"
)

const (
	maxUploadFiles = 10
	maxUploadBytes = 25 << 20
)

// ChatService is the server of record behind the chat endpoints.
type ChatService interface {
	ListConversations(ctx context.Context, viewerID, projectID string) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, viewerID string, scope chat.Scope) ([]chat.Message, error)
	Send(ctx context.Context, viewerID string, req chat.SendRequest) (chat.Message, error)
	MarkRead(ctx context.Context, viewerID, messageID string) (chat.Message, error)
	Upload(ctx context.Context, viewerID, conversationID string, files []chat.File) ([]chat.Attachment, error)
}

// ChatHandler exposes the chat REST surface.
type ChatHandler struct {
	Service ChatService
	Logger  *slog.Logger
}

type itemsResponse[T any] struct {
	Items []T `json:"items"`
}

// ListConversations returns the caller's conversations, optionally for one project.
func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	projectID := strings.TrimSpace(c.Query("projectId"))
	convs, err := h.Service.ListConversations(c.Request.Context(), p.ID, projectID)
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, itemsResponse[chat.Conversation]{Items: convs})
}

// ListMessages returns messages for the caller, filtered by project and conversation.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	scope := chat.Scope{
		ProjectID:      c.Query("projectId"),
		ConversationID: c.Query("conversationId"),
	}
	messages, err := h.Service.ListMessages(c.Request.Context(), p.ID, scope)
	if err != nil {
		h.respondChatError(c, err, "list messages", "user_id", p.ID, "conversation_id", scope.ConversationID)
		return
	}
	c.JSON(http.StatusOK, itemsResponse[chat.Message]{Items: messages})
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req chat.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.Service.Send(c.Request.Context(), p.ID, req)
	if err != nil {
		h.respondChatError(c, err, "send message", "user_id", p.ID, "conversation_id", req.ConversationID)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead is idempotent: repeating it returns the same message and 200.
func (h ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	msg, err := h.Service.MarkRead(c.Request.Context(), p.ID, id)
	if err != nil {
		h.respondChatError(c, err, "mark read", "user_id", p.ID, "message_id", id)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Upload stores the multipart "files" parts and returns their descriptors.
func (h ChatHandler) Upload(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("conversationId"))
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with files is required"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files are required"})
		return
	}
	if len(headers) > maxUploadFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d files per upload", maxUploadFiles)})
		return
	}
	files, closeAll, err := openParts(headers)
	defer closeAll()
	if err != nil {
		h.logError("open upload part failed", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	attachments, err := h.Service.Upload(c.Request.Context(), p.ID, conversationID, files)
	if err != nil {
		h.respondChatError(c, err, "upload attachments", "user_id", p.ID, "conversation_id", conversationID)
		return
	}
	c.JSON(http.StatusCreated, itemsResponse[chat.Attachment]{Items: attachments})
}

func openParts(headers []*multipart.FileHeader) ([]chat.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]chat.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, chat.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	return files, closeAll, nil
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	case errors.Is(err, context.Canceled):
		c.Status(499)
		return
	}
	if h.Logger != nil {
		h.Logger.Error("chat call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "chat unavailable"})
}

func (h ChatHandler) logError(msg string, err error) {
	if h.Logger != nil {
		h.Logger.Error(msg, "error", err)
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
