package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/liangwu/tcmprep/internal/fallback"
	"github.com/liangwu/tcmprep/internal/health"
	"github.com/liangwu/tcmprep/internal/model"
	"github.com/liangwu/tcmprep/internal/provider"
)

type fakeChatter struct {
	reply    string
	err      error
	messages []model.ChatMessage
	opts     provider.Options
}

func (f *fakeChatter) Chat(_ context.Context, messages []model.ChatMessage, opts provider.Options) (string, error) {
	f.messages = messages
	f.opts = opts
	return f.reply, f.err
}

func loadBank(t *testing.T) *fallback.Bank {
	t.Helper()
	b, err := fallback.Load()
	if err != nil {
		t.Fatalf("load bank: %v", err)
	}
	return b
}

func TestReplyPrependsSystemMessage(t *testing.T) {
	fc := &fakeChatter{reply: "气虚表现为神疲乏力、少气懒言等。"}
	svc := New(fc, loadBank(t))

	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "气虚有哪些表现？"},
	}
	reply, outcome := svc.Reply(context.Background(), model.CategoryPhysician, history)
	if reply != fc.reply {
		t.Errorf("reply = %q", reply)
	}
	if outcome != health.OutcomeSuccess {
		t.Errorf("outcome = %v, want success", outcome)
	}
	if len(fc.messages) != 2 {
		t.Fatalf("messages sent = %d, want system + user", len(fc.messages))
	}
	if fc.messages[0].Role != model.RoleSystem {
		t.Errorf("first message role = %q, want system", fc.messages[0].Role)
	}
	if fc.opts.Temperature != chatTemperature || fc.opts.MaxTokens != chatMaxTokens {
		t.Errorf("opts = %+v", fc.opts)
	}
}

func TestReplyOfflineFallback(t *testing.T) {
	fc := &fakeChatter{err: errors.New("dial tcp: connection refused")}
	svc := New(fc, loadBank(t))

	reply, outcome := svc.Reply(context.Background(), model.CategoryPharmacist, nil)
	if reply != fallback.ChatOfflineReply {
		t.Errorf("reply = %q, want the offline reply", reply)
	}
	if outcome != health.OutcomeFailure {
		t.Errorf("outcome = %v, want failure", outcome)
	}
}

func TestReplyDetectsCannedContent(t *testing.T) {
	fc := &fakeChatter{reply: "这是系统回复：" + fallback.ChatOfflineReply}
	svc := New(fc, loadBank(t))

	_, outcome := svc.Reply(context.Background(), model.CategorySpecialist, nil)
	if outcome != health.OutcomeFallback {
		t.Errorf("outcome = %v, want fallback for canned content", outcome)
	}
}
