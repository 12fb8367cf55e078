package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/blelkdom-ctl/internal/ble"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	state ble.DeviceState
	err   error
	ch    chan ble.DeviceState
}

func (c *fakeController) record(call string) (ble.DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.state, c.err
}

func (c *fakeController) State() ble.DeviceState { return c.state }
func (c *fakeController) SetPower(_ context.Context, on bool) (ble.DeviceState, error) {
	if on {
		return c.record("power:on")
	}
	return c.record("power:off")
}
func (c *fakeController) SetColor(_ context.Context, color string) (ble.DeviceState, error) {
	return c.record("color:" + color)
}
func (c *fakeController) BrightnessUp(context.Context) (ble.DeviceState, error) {
	return c.record("brightness:up")
}
func (c *fakeController) BrightnessDown(context.Context) (ble.DeviceState, error) {
	return c.record("brightness:down")
}
func (c *fakeController) ApplyPreset(_ context.Context, ref string) (ble.DeviceState, error) {
	return c.record("preset:" + ref)
}
func (c *fakeController) Subscribe(context.Context) <-chan ble.DeviceState { return c.ch }

type message struct {
	topic    string
	retained bool
	payload  string
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
}

func (r *recorder) publish(topic string, retained bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{topic, retained, string(payload)})
	return nil
}

func (r *recorder) messages() []message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message(nil), r.msgs...)
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/strip/"}
	tests := []struct {
		got, want string
	}{
		{topics.State(), "home/strip/state"},
		{topics.Availability(), "home/strip/availability"},
		{topics.SetPower(), "home/strip/set/power"},
		{topics.SetColor(), "home/strip/set/color"},
		{topics.SetBrightness(), "home/strip/set/brightness"},
		{topics.SetPreset(), "home/strip/set/preset"},
		{topics.AllCommands(), "home/strip/set/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParsePower(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"on", true, false},
		{"ON", true, false},
		{"true", true, false},
		{"1", true, false},
		{" off ", false, false},
		{"false", false, false},
		{"0", false, false},
		{"maybe", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		got, err := ParsePower(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePower(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePower(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandleDispatch(t *testing.T) {
	ctl := &fakeController{}
	b := newBridge(ctl, Topics{Prefix: "blelkdom"}, (&recorder{}).publish)

	cmds := []struct {
		topic, payload, want string
	}{
		{"blelkdom/set/power", "on", "power:on"},
		{"blelkdom/set/power", "0", "power:off"},
		{"blelkdom/set/color", " #FFAA00\n", "color:#FFAA00"},
		{"blelkdom/set/brightness", "up", "brightness:up"},
		{"blelkdom/set/brightness", "DOWN", "brightness:down"},
		{"blelkdom/set/preset", "Warm", "preset:Warm"},
	}
	for _, c := range cmds {
		if err := b.handle(context.Background(), c.topic, []byte(c.payload)); err != nil {
			t.Errorf("handle(%s, %q) error = %v", c.topic, c.payload, err)
		}
	}
	if len(ctl.calls) != len(cmds) {
		t.Fatalf("calls = %v", ctl.calls)
	}
	for i, c := range cmds {
		if ctl.calls[i] != c.want {
			t.Errorf("call %d = %q, want %q", i, ctl.calls[i], c.want)
		}
	}
}

func TestHandleRejectsBadInput(t *testing.T) {
	ctl := &fakeController{}
	b := newBridge(ctl, Topics{Prefix: "blelkdom"}, (&recorder{}).publish)

	if err := b.handle(context.Background(), "blelkdom/set/power", []byte("maybe")); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("power err = %v, want ErrInvalidPayload", err)
	}
	if err := b.handle(context.Background(), "blelkdom/set/brightness", []byte("50")); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("brightness err = %v, want ErrInvalidPayload", err)
	}
	if err := b.handle(context.Background(), "blelkdom/set/speed", []byte("1")); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown err = %v, want ErrUnknownCommand", err)
	}
	if len(ctl.calls) != 0 {
		t.Errorf("controller called for bad input: %v", ctl.calls)
	}
}

func TestHandlePropagatesControllerError(t *testing.T) {
	ctl := &fakeController{err: ble.ErrNoDeviceSelected}
	b := newBridge(ctl, Topics{Prefix: "blelkdom"}, (&recorder{}).publish)

	err := b.handle(context.Background(), "blelkdom/set/color", []byte("#ffffff"))
	if !errors.Is(err, ble.ErrNoDeviceSelected) {
		t.Errorf("err = %v, want ErrNoDeviceSelected", err)
	}
}

func TestRunPublishesRetainedState(t *testing.T) {
	ch := make(chan ble.DeviceState, 2)
	ctl := &fakeController{ch: ch}
	rec := &recorder{}
	b := newBridge(ctl, Topics{Prefix: "blelkdom"}, rec.publish)

	ch <- ble.DeviceState{PowerOn: true, Color: "#00ff00", Brightness: 80, Connected: true}
	close(ch)

	done := make(chan struct{})
	go func() {
		_ = b.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after subscription closed")
	}

	msgs := rec.messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want state then offline", msgs)
	}
	if msgs[0].topic != "blelkdom/state" || !msgs[0].retained {
		t.Errorf("state message = %+v", msgs[0])
	}
	var got ble.DeviceState
	if err := json.Unmarshal([]byte(msgs[0].payload), &got); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if got.Color != "#00ff00" || got.Brightness != 80 || !got.PowerOn {
		t.Errorf("state = %+v", got)
	}
	if msgs[1].topic != "blelkdom/availability" || msgs[1].payload != "offline" || !msgs[1].retained {
		t.Errorf("availability message = %+v", msgs[1])
	}
}

func TestStartPublishesOfflineBeforeDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan ble.DeviceState)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	ctl := &fakeController{ch: ch}
	rec := &recorder{}
	slow := func(topic string, retained bool, payload []byte) error {
		// Stands in for the broker acknowledgement round trip.
		time.Sleep(30 * time.Millisecond)
		return rec.publish(topic, retained, payload)
	}
	b := newBridge(ctl, Topics{Prefix: "blelkdom"}, slow)

	done := b.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start's done channel did not close after cancel")
	}
	msgs := rec.messages()
	if len(msgs) == 0 {
		t.Fatal("nothing published before done closed")
	}
	last := msgs[len(msgs)-1]
	if last.topic != "blelkdom/availability" || last.payload != "offline" || !last.retained {
		t.Errorf("last message = %+v, want retained offline availability", last)
	}
}

type fakeToken struct {
	completed bool
	err       error
}

func (t *fakeToken) Wait() bool                     { return t.completed }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.completed }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.completed {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

func TestWaitToken(t *testing.T) {
	brokerErr := errors.New("not authorized")
	tests := []struct {
		name    string
		token   *fakeToken
		wantErr bool
	}{
		{"acknowledged", &fakeToken{completed: true}, false},
		{"timeout", &fakeToken{}, true},
		{"broker error", &fakeToken{completed: true, err: brokerErr}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := waitToken(tt.token, time.Millisecond, ErrSubscribeFailed, "blelkdom/set/+")
			if (err != nil) != tt.wantErr {
				t.Fatalf("waitToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrSubscribeFailed) {
				t.Errorf("error = %v, want ErrSubscribeFailed", err)
			}
		})
	}
	err := waitToken(&fakeToken{completed: true, err: brokerErr}, time.Millisecond, ErrSubscribeFailed, "x")
	if !errors.Is(err, brokerErr) {
		t.Errorf("error = %v, want wrapped broker error", err)
	}
}
