package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rpcbot/internal/eventbus"
	"rpcbot/internal/rpc/args"
	"rpcbot/internal/rpc/chattext"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

const maxResponseBytes = 8 << 20

var errRateLimited = errors.New("rate limit exceeded")

type requestBody struct {
	User   string            `json:"user"`
	RoomID string            `json:"room_id"`
	Params map[string]string `json:"params"`
	Method string            `json:"method"`
}

func encodeBody(user, room, method string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = map[string]string{}
	}
	return json.Marshal(requestBody{User: user, RoomID: room, Params: params, Method: method})
}

// Invoke runs cmd for msg and replies in msg's room. msg.Text must be the
// normalized text the command matched.
func (d *Dispatcher) Invoke(ctx context.Context, cmd Command, msg transport.Message, sender transport.Sender) error {
	if cmd.IsHelp {
		return sender.Send(ctx, msg.RoomID, cmd.helpText)
	}
	res := d.Call(ctx, cmd, params(cmd, msg.Text), msg)
	return d.reply(ctx, cmd, msg, sender, res)
}

// Raw invokes the command id with flags parsed from flagText, bypassing its
// chat pattern.
func (d *Dispatcher) Raw(ctx context.Context, id, flagText string, msg transport.Message, sender transport.Sender) error {
	var found []Command
	for _, c := range d.Find(id) {
		if !c.IsHelp {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return sender.Send(ctx, msg.RoomID, fmt.Sprintf("No such method %q.", id))
	case 1:
	default:
		origins := make([]string, 0, len(found))
		for _, c := range found {
			origins = append(origins, c.Origin)
		}
		return sender.Send(ctx, msg.RoomID, fmt.Sprintf("Method %q is ambiguous; defined by %s.", id, strings.Join(origins, ", ")))
	}
	cmd := found[0]
	_, flags := args.Extract(" " + strings.TrimSpace(flagText))
	res := d.Call(ctx, cmd, flags, msg)
	return d.reply(ctx, cmd, msg, sender, res)
}

// Call performs the signed POST for cmd and classifies the response. It never
// replies to chat.
func (d *Dispatcher) Call(ctx context.Context, cmd Command, params map[string]string, msg transport.Message) Result {
	start := time.Now()
	res := d.call(ctx, cmd, params, msg)

	log := d.log.With(logx.String("cmd", cmd.ID), logx.String("origin", cmd.Origin))
	if res.Err != nil {
		log.Warn("rpc invocation failed", logx.Int("status", res.Status), logx.Err(res.Err))
	} else {
		log.Debug("rpc invocation done", logx.String("kind", string(res.Kind)), logx.Duration("took", time.Since(start)))
	}
	d.bus.Publish(eventbus.Event{
		Type: eventbus.TypeInvoke,
		Data: eventbus.InvokeEvent{
			ID:     cmd.ID,
			Origin: cmd.Origin,
			User:   msg.User(),
			Room:   msg.RoomID,
			Kind:   string(res.Kind),
			Took:   time.Since(start),
		},
	})
	return res
}

func (d *Dispatcher) call(ctx context.Context, cmd Command, params map[string]string, msg transport.Message) Result {
	fail := func(status int, reason string, err error) Result {
		return Result{Kind: KindError, Status: status, Err: &InvocationError{ID: cmd.ID, Reason: reason, Err: err}}
	}

	if !d.allow(cmd.Origin) {
		return fail(0, "rate limited", errRateLimited)
	}

	body, err := encodeBody(msg.User(), msg.RoomID, cmd.Method, params)
	if err != nil {
		return fail(0, "encode request", err)
	}
	auth, err := d.sign.Sign(cmd.URL, body)
	if err != nil {
		return fail(0, "sign request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.opt.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cmd.URL, bytes.NewReader(body))
	if err != nil {
		return fail(0, "build request", err)
	}
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth.Apply(req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		r := fail(0, "transport", err)
		r.Text = cmd.ErrorResponse
		return r
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		r := fail(resp.StatusCode, "transport", err)
		r.Text = cmd.ErrorResponse
		return r
	}
	return classify(cmd, resp.StatusCode, raw, msg.Text)
}

// classify maps a response body onto an outcome. The order of checks is
// significant: null before error before result.
func classify(cmd Command, status int, raw []byte, text string) Result {
	fail := func(reason string) Result {
		return Result{Kind: KindError, Status: status, Err: &InvocationError{ID: cmd.ID, Reason: reason}}
	}

	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return fail(string(trimmed))
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return fail("Invalid output, null")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		obj = nil
	}

	if e, ok := obj["error"]; ok {
		var ee struct {
			Message *string `json:"message"`
		}
		if json.Unmarshal(e, &ee) == nil && ee.Message != nil {
			if strings.TrimSpace(*ee.Message) == "" {
				return fail(fmt.Sprintf("Remote error without a message (HTTP code: %d)", status))
			}
			return Result{Kind: KindMessage, Status: status, Text: *ee.Message}
		}
	}

	r, ok := obj["result"]
	if !ok {
		return fail(fmt.Sprintf("Invalid response, missing result (HTTP code: %d)", status))
	}
	if bytes.Equal(bytes.TrimSpace(r), []byte("null")) {
		return Result{Kind: KindEmpty, Status: status, Text: fmt.Sprintf("%q returned no output.", strings.TrimSpace(text))}
	}
	var s string
	if json.Unmarshal(r, &s) == nil {
		return Result{Kind: KindResult, Status: status, Text: s}
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, r, "", "  "); err != nil {
		return Result{Kind: KindResult, Status: status, Text: string(r)}
	}
	return Result{Kind: KindResult, Status: status, Text: pretty.String()}
}

// ErrorText renders the chat reply for a KindError result.
func ErrorText(res Result) string {
	if res.Text != "" {
		return chattext.Clip(res.Text, chattext.ErrorMax)
	}
	var ie *InvocationError
	detail := ""
	if errors.As(res.Err, &ie) {
		detail = ie.Reason
		if ie.Err != nil {
			detail = ie.Err.Error()
		}
	} else if res.Err != nil {
		detail = res.Err.Error()
	}
	return "RPC error: " + chattext.Clip(detail, chattext.ErrorMax)
}

func (d *Dispatcher) reply(ctx context.Context, cmd Command, msg transport.Message, sender transport.Sender, res Result) error {
	switch res.Kind {
	case KindError:
		return sender.Send(ctx, msg.RoomID, ErrorText(res))
	case KindResult:
		if len(res.Text) > d.opt.SnippetThreshold {
			return sender.SendSnippet(ctx, msg.RoomID, cmd.ID, res.Text)
		}
	}
	if res.Text == "" {
		return nil
	}
	return sender.Send(ctx, msg.RoomID, res.Text)
}

func (d *Dispatcher) allow(origin string) bool {
	if d.opt.RatePerMin <= 0 {
		return true
	}
	d.limMu.Lock()
	lim, ok := d.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(d.opt.RatePerMin)/60), d.opt.RatePerMin)
		d.limiters[origin] = lim
	}
	d.limMu.Unlock()
	return lim.Allow()
}
