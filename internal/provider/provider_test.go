package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liangwu/tcmprep/internal/model"
)

const stubCompletion = `{"choices":[{"message":{"role":"assistant","content":"好的。"}}]}`

func stubServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestChatAgainstStubEndpoint(t *testing.T) {
	srv := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stubCompletion))
	})

	c := New(srv.URL+"/v1", "test-key", "test-model", 5*time.Second)
	reply, err := c.Chat(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "你好"},
	}, Options{Temperature: 0.7, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "好的。" {
		t.Errorf("reply = %q", reply)
	}
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	srv := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		// Hold the request open until the client gives up. The body must
		// be drained first or the server never notices the disconnect and
		// srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	c := New(srv.URL+"/v1", "test-key", "test-model", 50*time.Millisecond)

	start := time.Now()
	_, err := c.CompleteJSON(context.Background(), "system", "user", 0.3)
	if err == nil {
		t.Fatal("expected a timeout error from a hung endpoint")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call was not bounded by the timeout, took %v", elapsed)
	}

	start = time.Now()
	_, err = c.Chat(context.Background(), []model.ChatMessage{
		{Role: model.RoleUser, Content: "你好"},
	}, Options{})
	if err == nil {
		t.Fatal("expected a timeout error from a hung endpoint")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("chat call was not bounded by the timeout, took %v", elapsed)
	}
}

func TestZeroTimeoutHonorsCallerContext(t *testing.T) {
	srv := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	c := New(srv.URL+"/v1", "test-key", "test-model", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected the caller's deadline to cancel the call")
	}
}
