package location

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	cmd      controlMessage
}

type fakeClient struct {
	mu         sync.Mutex
	subscribed []string
	published  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var cmd controlMessage
	_ = json.Unmarshal(payload.([]byte), &cmd)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, retained: retained, cmd: cmd})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return doneToken{}
}

func (c *fakeClient) commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.published))
	for _, p := range c.published {
		out = append(out, p.cmd.Command)
	}
	return out
}

type fakeDispatcher struct {
	mu    sync.Mutex
	tasks []string
	data  []ports.BackgroundTaskData
	err   error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, taskName string, data ports.BackgroundTaskData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, taskName)
	d.data = append(d.data, data)
	return d.err
}

func TestMQTTGatewayStartSubscribes(t *testing.T) {
	client := &fakeClient{}
	g := NewMQTTGateway(client, nil, "background-location-task")

	if err := g.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.subscribed) != 3 {
		t.Fatalf("subscriptions = %v, want 3 topics", client.subscribed)
	}
}

func TestMQTTProviderPermissionsFromRetainedMessage(t *testing.T) {
	g := NewMQTTGateway(&fakeClient{}, nil, "")
	p := g.Provider("driver-1")
	ctx := context.Background()

	if st, _ := p.ForegroundPermission(ctx); st != ports.PermissionUndetermined {
		t.Fatalf("foreground = %s, want undetermined", st)
	}

	g.handle("drivers/driver-1/permissions", []byte(`{"foreground":"granted","background":"denied"}`))

	if st, _ := p.ForegroundPermission(ctx); st != ports.PermissionGranted {
		t.Fatalf("foreground = %s, want granted", st)
	}
	if st, _ := p.BackgroundPermission(ctx); st != ports.PermissionDenied {
		t.Fatalf("background = %s, want denied", st)
	}
}

func TestMQTTProviderForegroundWatch(t *testing.T) {
	client := &fakeClient{}
	g := NewMQTTGateway(client, nil, "")
	p := g.Provider("driver-1")
	ctx := context.Background()

	if _, err := p.CurrentPosition(ctx); err == nil {
		t.Fatalf("expected error before any fix")
	}

	var got []ports.RawPosition
	sub, err := p.Watch(ctx, ports.WatchOptions{Interval: 5 * time.Second, MinDisplacementMeters: 10}, func(raw ports.RawPosition) {
		got = append(got, raw)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g.handle("drivers/driver-1/location/foreground", []byte(`{"latitude":-25.5,"longitude":28.0,"speed":4.2,"timestamp":1767254400000}`))
	g.handle("drivers/driver-2/location/foreground", []byte(`{"latitude":1,"longitude":1}`))
	g.handle("drivers/driver-1/location/foreground", []byte(`not json`))

	if len(got) != 1 {
		t.Fatalf("fixes = %d, want 1", len(got))
	}
	if got[0].Speed == nil || *got[0].Speed != 4.2 {
		t.Fatalf("speed = %v, want 4.2", got[0].Speed)
	}
	if !got[0].Timestamp.Equal(time.UnixMilli(1767254400000)) {
		t.Fatalf("timestamp = %s", got[0].Timestamp)
	}

	pos, err := p.CurrentPosition(ctx)
	if err != nil || pos.Latitude != -25.5 {
		t.Fatalf("current = %+v, %v", pos, err)
	}

	sub.Remove()
	sub.Remove()

	want := []string{"start_foreground", "stop_foreground"}
	if cmds := client.commands(); fmt.Sprint(cmds) != fmt.Sprint(want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
	if client.published[0].topic != "drivers/driver-1/control" {
		t.Fatalf("topic = %q", client.published[0].topic)
	}
	if client.published[0].cmd.IntervalMs != 5000 {
		t.Fatalf("interval = %d, want 5000", client.published[0].cmd.IntervalMs)
	}
}

func TestMQTTProviderBackgroundRegistration(t *testing.T) {
	client := &fakeClient{}
	g := NewMQTTGateway(client, nil, "")
	p := g.Provider("driver-1")
	ctx := context.Background()

	if err := p.StartBackgroundUpdates(ctx, "task-a", ports.WatchOptions{Interval: 30 * time.Second}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := p.HasStartedBackgroundUpdates(ctx, "task-a"); !ok {
		t.Fatalf("expected task-a to be registered")
	}
	if !client.published[0].retained {
		t.Fatalf("expected background registration to be retained")
	}

	if err := p.StopBackgroundUpdates(ctx, "task-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := p.HasStartedBackgroundUpdates(ctx, "task-a"); ok {
		t.Fatalf("expected task-a to be unregistered")
	}
}

func TestMQTTGatewayDispatchesBackgroundBatch(t *testing.T) {
	client := &fakeClient{}
	d := &fakeDispatcher{}
	g := NewMQTTGateway(client, d, "background-location-task")

	g.handle("drivers/driver-1/location/background", []byte(`{"positions":[{"latitude":-25.5,"longitude":28.0},{"latitude":-25.501,"longitude":28.0}]}`))

	if len(d.tasks) != 1 || d.tasks[0] != "background-location-task" {
		t.Fatalf("tasks = %v, want the default task", d.tasks)
	}
	if d.data[0].DriverID != "driver-1" || len(d.data[0].Positions) != 2 {
		t.Fatalf("data = %+v", d.data[0])
	}

	pos, err := g.Provider("driver-1").CurrentPosition(context.Background())
	if err != nil || pos.Latitude != -25.501 {
		t.Fatalf("current = %+v, %v, want the last batch fix", pos, err)
	}
}

func TestMQTTGatewayStopsBackgroundWithoutSession(t *testing.T) {
	client := &fakeClient{}
	d := &fakeDispatcher{err: fmt.Errorf("background task: %w", domain.ErrSessionNotFound)}
	g := NewMQTTGateway(client, d, "background-location-task")
	ctx := context.Background()

	p := g.Provider("driver-1")
	if err := p.StartBackgroundUpdates(ctx, "background-location-task", ports.WatchOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g.handle("drivers/driver-1/location/background", []byte(`{"task":"background-location-task","positions":[{"latitude":-25.5,"longitude":28.0}]}`))

	if ok, _ := p.HasStartedBackgroundUpdates(ctx, "background-location-task"); ok {
		t.Fatalf("expected background updates to be stopped")
	}
	want := []string{"start_background", "stop_background"}
	if cmds := client.commands(); fmt.Sprint(cmds) != fmt.Sprint(want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}
}
