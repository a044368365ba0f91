package chatsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatsync/internal/domain/chat"
)

func testFiles(names ...string) []chat.File {
	files := make([]chat.File, 0, len(names))
	for _, name := range names {
		files = append(files, chat.File{Name: name, Size: 3, Body: strings.NewReader("abc")})
	}
	return files
}

func TestUploadSendsFileMessage(t *testing.T) {
	api := newFakeAPI()
	p := &UploadPipeline{API: api, Send: &SendPipeline{API: api}}

	msg, err := p.Upload(context.Background(), Target{ConversationID: "bob"}, testFiles("a.pdf", "b.png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if msg.MessageType != chat.MessageTypeFile || msg.Message != "Sent 2 file(s)" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Attachments) != 2 || msg.Attachments[1].Name != "b.png" {
		t.Fatalf("expected attachment descriptors to be referenced, got %+v", msg.Attachments)
	}
}

func TestUploadFailureSendsNothing(t *testing.T) {
	api := newFakeAPI()
	api.uploadErr = errBoom
	p := &UploadPipeline{API: api, Send: &SendPipeline{API: api}}

	if _, err := p.Upload(context.Background(), Target{ConversationID: "bob"}, testFiles("a.pdf")); !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if api.sendCalls.Load() != 0 {
		t.Fatalf("no message expected after failed upload")
	}
}

func TestUploadReportsOrphanWhenSendFails(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errBoom
	metrics := newRecordingMetrics()
	p := &UploadPipeline{API: api, Send: &SendPipeline{API: api}, Metrics: metrics}

	_, err := p.Upload(context.Background(), Target{ConversationID: "bob"}, testFiles("a.pdf"))
	var orphan *OrphanedUploadError
	if !errors.As(err, &orphan) {
		t.Fatalf("expected orphaned upload error, got %v", err)
	}
	if orphan.ConversationID != "bob" || len(orphan.Attachments) != 1 || !errors.Is(err, errBoom) {
		t.Fatalf("unexpected orphan %+v", orphan)
	}
	if api.sendCalls.Load() != 1 || metrics.orphans != 1 {
		t.Fatalf("expected a single send attempt and one orphan")
	}
}

type flakySender struct {
	failures int
	calls    int
}

func (f *flakySender) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return chat.Message{}, errBoom
	}
	return chat.Message{ID: "ok", Message: req.Message, MessageType: req.MessageType}, nil
}

func TestUploadRetriesMessageCreateWhenEnabled(t *testing.T) {
	api := newFakeAPI()
	sender := &flakySender{failures: 2}
	p := &UploadPipeline{
		API:             api,
		Send:            &SendPipeline{API: sender},
		RetryMaxElapsed: 5 * time.Second,
	}

	msg, err := p.Upload(context.Background(), Target{ConversationID: "bob"}, testFiles("a.pdf"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if msg.ID != "ok" || sender.calls != 3 {
		t.Fatalf("expected success on third attempt, got %+v after %d calls", msg, sender.calls)
	}
	if api.uploadCalls.Load() != 1 {
		t.Fatalf("upload step must not be retried")
	}
}

func TestUploadRequiresConversation(t *testing.T) {
	api := newFakeAPI()
	p := &UploadPipeline{API: api, Send: &SendPipeline{API: api}}
	if _, err := p.Upload(context.Background(), Target{}, testFiles("a.pdf")); !errors.Is(err, chat.ErrNoConversation) {
		t.Fatalf("expected no conversation, got %v", err)
	}
	if api.uploadCalls.Load() != 0 {
		t.Fatalf("no request expected")
	}
}

type rejected struct{}

func (rejected) Error() string   { return "status 403" }
func (rejected) Temporary() bool { return false }

type rejectingSender struct{ calls int }

func (r *rejectingSender) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	r.calls++
	return chat.Message{}, rejected{}
}

func TestUploadRetryStopsOnPermanentErrors(t *testing.T) {
	sender := &rejectingSender{}
	p := &UploadPipeline{
		API:             newFakeAPI(),
		Send:            &SendPipeline{API: sender},
		RetryMaxElapsed: 5 * time.Second,
	}
	_, err := p.Upload(context.Background(), Target{ConversationID: "bob"}, testFiles("a.pdf"))
	var orphan *OrphanedUploadError
	if !errors.As(err, &orphan) {
		t.Fatalf("expected an orphaned upload, got %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", sender.calls)
	}
}
