package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "descbot/internal/transport"
	"descbot/pkg/logx"
)

type recorded struct {
	path string
	body map[string]any
}

func fakeAPI(t *testing.T, respond func(method string) (int, string)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, recorded{path: r.URL.Path, body: body})
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		code, payload := respond(method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{URL: url, Token: "123:abc", Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return &Adapter{cfg: Config{Token: "123:abc"}, log: logx.Nop(), bot: b}
}

func TestSetProfileTextPayload(t *testing.T) {
	srv, calls := fakeAPI(t, func(string) (int, string) { return 200, `{"ok":true,"result":true}` })
	a := testAdapter(t, srv.URL)

	if err := a.SetProfileText(context.Background(), FieldShortDescription, "Back in 5", "en"); err != nil {
		t.Fatalf("SetProfileText: %v", err)
	}
	if err := a.SetProfileText(context.Background(), FieldDescription, "Long text", ""); err != nil {
		t.Fatalf("SetProfileText: %v", err)
	}
	got := *calls
	if len(got) != 2 {
		t.Fatalf("calls = %d", len(got))
	}
	if got[0].path != "/bot123:abc/setMyShortDescription" || got[0].body["short_description"] != "Back in 5" || got[0].body["language_code"] != "en" {
		t.Fatalf("unexpected first call %+v", got[0])
	}
	if got[1].path != "/bot123:abc/setMyDescription" || got[1].body["description"] != "Long text" {
		t.Fatalf("unexpected second call %+v", got[1])
	}
}

func TestSetProfileTextErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		code       int
		retryAfter int
	}{
		{name: "flood", status: 429, body: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`, code: 429, retryAfter: 17},
		{name: "unauthorized", status: 401, body: `{"ok":false,"error_code":401,"description":"Unauthorized"}`, code: 401},
		{name: "bad request", status: 400, body: `{"ok":false,"error_code":400,"description":"Bad Request: text is too long"}`, code: 400},
		{name: "server error", status: 502, body: `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, code: 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeAPI(t, func(string) (int, string) { return tt.status, tt.body })
			err := testAdapter(t, srv.URL).SetProfileText(context.Background(), FieldShortDescription, "x", "")
			var apiErr *kit.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v is not *APIError", err)
			}
			if apiErr.Code != tt.code || apiErr.RetryAfter != tt.retryAfter || apiErr.Method != "setMyShortDescription" {
				t.Fatalf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestSetProfileTextTransportErrorHidesToken(t *testing.T) {
	srv, _ := fakeAPI(t, func(string) (int, string) { return 200, `{"ok":true}` })
	url := srv.URL
	srv.Close()

	err := testAdapter(t, url).SetProfileText(context.Background(), FieldDescription, "x", "")
	if err == nil {
		t.Fatal("expected transport error")
	}
	var apiErr *kit.APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("transport failure reported as API error: %v", err)
	}
	if strings.Contains(err.Error(), "123:abc") {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestSetProfileTextCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := testAdapter(t, "http://unused").SetProfileText(ctx, FieldDescription, "x", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestUnknownProfileField(t *testing.T) {
	t.Parallel()
	if err := testAdapter(t, "http://unused").SetProfileText(context.Background(), "bio", "x", ""); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestProfileText(t *testing.T) {
	srv, _ := fakeAPI(t, func(method string) (int, string) {
		switch method {
		case "getMyShortDescription":
			return 200, `{"ok":true,"result":{"short_description":"Hello"}}`
		case "getMyDescription":
			return 200, `{"ok":true,"result":{"description":"Long hello"}}`
		}
		return 400, `{"ok":false,"error_code":400,"description":"wrong method"}`
	})
	a := testAdapter(t, srv.URL)
	got, err := a.ProfileText(context.Background(), FieldShortDescription, "")
	if err != nil || got != "Hello" {
		t.Fatalf("ProfileText = %q, %v", got, err)
	}
	got, err = a.ProfileText(context.Background(), FieldDescription, "")
	if err != nil || got != "Long hello" {
		t.Fatalf("ProfileText = %q, %v", got, err)
	}
}

func TestParseAPIFailure(t *testing.T) {
	t.Parallel()
	desc, code, ok := parseAPIFailure("telegram: Bad Request: text is too long (400)")
	if !ok || code != 400 || desc != "Bad Request: text is too long" {
		t.Fatalf("parseAPIFailure = %q, %d, %v", desc, code, ok)
	}
	if _, _, ok := parseAPIFailure("telebot: dial tcp: refused"); ok {
		t.Fatal("transport error parsed as API failure")
	}
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	var n atomic.Int32
	srv, _ := fakeAPI(t, func(string) (int, string) {
		n.Add(1)
		return 200, `{"ok":true,"result":true}`
	})
	a := testAdapter(t, srv.URL)
	cmds := []kit.BotCommand{{Command: "status", Description: "Show status"}, {Command: "skip"}}
	for i := 0; i < 3; i++ {
		if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
			t.Fatalf("UpdateMenuCommands: %v", err)
		}
	}
	if got := n.Load(); got != 1 {
		t.Fatalf("setMyCommands called %d times, want 1", got)
	}
}

func TestRedactHidesToken(t *testing.T) {
	t.Parallel()
	err := redact(errors.New(`Post "https://api/bot123:abc/x": dial tcp`), "123:abc")
	if strings.Contains(err.Error(), "123:abc") {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText short = %q", got)
	}
	in := "aaaa\nbbbb\ncccc"
	got := splitText(in, 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("splitText = %q", got)
	}
	long := strings.Repeat("x", 25)
	got = splitText(long, 10)
	if len(got) != 3 || got[2] != "xxxxx" {
		t.Fatalf("splitText long = %q", got)
	}
}
