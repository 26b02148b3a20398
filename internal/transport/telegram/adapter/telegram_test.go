package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	long := strings.Repeat("a", 25)
	got := splitText(long, 10)
	if len(got) != 3 || got[0] != strings.Repeat("a", 10) || got[2] != "aaaaa" {
		t.Fatalf("hard split = %q", got)
	}

	lines := "aaaaaa\nbbbbbb\ncccccc"
	got = splitText(lines, 10)
	if len(got) != 3 || got[0] != "aaaaaa" || got[1] != "bbbbbb" || got[2] != "cccccc" {
		t.Fatalf("newline split = %q", got)
	}

	multi := strings.Repeat("é", 12)
	for _, c := range splitText(multi, 5) {
		if n := len([]rune(c)); n > 5 {
			t.Fatalf("chunk of %d runes", n)
		}
	}
}

func TestMessageUpdate(t *testing.T) {
	m := &tele.Message{
		ID:       7,
		Text:     "/server",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 11, Username: "alice", FirstName: "Alice", LastName: "Smith"},
	}
	up, ok := messageUpdate(m)
	if !ok || up.Kind != kit.UpdateMessage {
		t.Fatalf("update = %+v, %v", up, ok)
	}
	got := up.Message
	if got.ChatID != -100 || got.ThreadID != 3 || got.FromID != 11 || got.FromUsername != "alice" || got.FromName != "Alice Smith" || !got.IsGroup {
		t.Fatalf("message = %+v", got)
	}
	if _, ok := messageUpdate(nil); ok {
		t.Fatal("nil message accepted")
	}
}

func TestMemberUpdate(t *testing.T) {
	chat := &tele.Chat{ID: -5, Title: "ops"}
	member := func(r tele.MemberStatus) *tele.ChatMember { return &tele.ChatMember{Role: r} }

	cases := []struct {
		name     string
		old, new tele.MemberStatus
		want     kit.UpdateKind
		ok       bool
	}{
		{"added", tele.Left, tele.Member, kit.UpdateInstalled, true},
		{"added as admin", tele.Kicked, tele.Administrator, kit.UpdateInstalled, true},
		{"removed", tele.Member, tele.Left, kit.UpdateUninstalled, true},
		{"kicked", tele.Administrator, tele.Kicked, kit.UpdateUninstalled, true},
		{"promoted", tele.Member, tele.Administrator, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			up, ok := memberUpdate(&tele.ChatMemberUpdate{
				Chat:          chat,
				Sender:        &tele.User{ID: 9},
				OldChatMember: member(tc.old),
				NewChatMember: member(tc.new),
			})
			if ok != tc.ok || up.Kind != tc.want {
				t.Fatalf("got %v %v, want %v %v", up.Kind, ok, tc.want, tc.ok)
			}
			if ok && (up.Install.ChatID != -5 || up.Install.ChatTitle != "ops" || up.Install.ByID != 9) {
				t.Fatalf("install = %+v", up.Install)
			}
		})
	}
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/setMyCommands") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Commands []struct{ Command, Description string } `json:"commands"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Commands) != 2 || body.Commands[1].Description != "help" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"bad commands"}`))
			return
		}
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cmds := []kit.BotCommand{{Command: "server", Description: "check the status"}, {Command: "help"}}
	for i := 0; i < 3; i++ {
		if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
			t.Fatalf("UpdateMenuCommands: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("setMyCommands called %d times, want 1", calls.Load())
	}
	if err := a.UpdateMenuCommands(context.Background(), cmds[:1]); err == nil || !strings.Contains(err.Error(), "bad commands") {
		t.Fatalf("error not surfaced: %v", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestSendLogWithoutChatIsNoop(t *testing.T) {
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SendLog(context.Background(), "hello"); err != nil {
		t.Fatalf("SendLog = %v", err)
	}
}
