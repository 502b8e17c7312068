package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

func TestReadsLinesAsDirectMessages(t *testing.T) {
	in := strings.NewReader("rpc list\n\n  hubot help  \n")
	a := New(in, &bytes.Buffer{}, Options{}, logx.Nop())
	out := make(chan transport.Message, 4)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("adapter did not finish on EOF")
	}
	close(out)

	var got []transport.Message
	for m := range out {
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Text != "rpc list" || !got[0].Direct || got[0].UserID != "1" || got[0].RoomID != "shell" {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Text != "hubot help" || got[1].ID != "2" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestSendWritesLines(t *testing.T) {
	var buf bytes.Buffer
	a := New(strings.NewReader(""), &buf, Options{}, logx.Nop())
	ctx := context.Background()
	_ = a.Send(ctx, "shell", "hello")
	_ = a.SendSnippet(ctx, "shell", "deploy.logs", "line1\nline2\n")

	want := "hello\n----- deploy.logs -----\nline1\nline2\n----- end deploy.logs -----\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
	if a.Name() != transport.ShellAdapterName {
		t.Fatalf("name = %q", a.Name())
	}
}
