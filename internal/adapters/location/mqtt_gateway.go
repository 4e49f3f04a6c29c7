package location

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic layout shared with the driver app:
//
//	drivers/{id}/location/foreground  single fix while the app is in use
//	drivers/{id}/location/background  batch delivered to a background task
//	drivers/{id}/permissions          retained permission state
//	drivers/{id}/control              commands from this service
const (
	topicForeground  = "drivers/+/location/foreground"
	topicBackground  = "drivers/+/location/background"
	topicPermissions = "drivers/+/permissions"

	publishTimeout  = 5 * time.Second
	dispatchTimeout = 30 * time.Second
)

// mqttClient is the subset of mqtt.Client the gateway uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Connect opens an MQTT connection to the broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// MQTTGateway bridges driver devices on MQTT to per-driver LocationProviders.
// Background batches are handed to the BackgroundDispatcher under the task
// name the device was registered with.
type MQTTGateway struct {
	client      mqttClient
	dispatcher  ports.BackgroundDispatcher
	defaultTask string

	mu      sync.Mutex
	drivers map[string]*MQTTLocationProvider
}

func NewMQTTGateway(client mqttClient, dispatcher ports.BackgroundDispatcher, defaultTask string) *MQTTGateway {
	return &MQTTGateway{
		client:      client,
		dispatcher:  dispatcher,
		defaultTask: defaultTask,
		drivers:     make(map[string]*MQTTLocationProvider),
	}
}

// Start subscribes to the device topics.
func (g *MQTTGateway) Start() error {
	for _, topic := range []string{topicForeground, topicBackground, topicPermissions} {
		token := g.client.Subscribe(topic, 1, g.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
		}
	}
	log.Printf("mqtt gateway subscribed topics=%d", 3)
	return nil
}

// Provider returns the location provider of one driver device.
func (g *MQTTGateway) Provider(driverID string) ports.LocationProvider {
	return g.provider(driverID)
}

func (g *MQTTGateway) provider(driverID string) *MQTTLocationProvider {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.drivers[driverID]
	if !ok {
		p = newMQTTLocationProvider(g, driverID)
		g.drivers[driverID] = p
	}
	return p
}

func (g *MQTTGateway) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	g.handle(msg.Topic(), msg.Payload())
}

func (g *MQTTGateway) handle(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "drivers" || parts[1] == "" {
		log.Printf("mqtt unexpected topic=%s", topic)
		return
	}
	driverID := parts[1]
	p := g.provider(driverID)

	switch {
	case len(parts) == 3 && parts[2] == "permissions":
		var m permissionsMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("mqtt invalid permissions driver_id=%s err=%v", driverID, err)
			return
		}
		p.setPermissions(m)

	case len(parts) == 4 && parts[2] == "location" && parts[3] == "foreground":
		var m positionMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("mqtt invalid foreground fix driver_id=%s err=%v", driverID, err)
			return
		}
		p.deliverForeground(m.toRaw())

	case len(parts) == 4 && parts[2] == "location" && parts[3] == "background":
		var m backgroundMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("mqtt invalid background batch driver_id=%s err=%v", driverID, err)
			return
		}
		g.dispatchBackground(p, m)

	default:
		log.Printf("mqtt unexpected topic=%s", topic)
	}
}

// dispatchBackground runs the background task for a batch. When the task
// finds no active session the device is told to stop, since the OS would
// otherwise keep waking the task.
func (g *MQTTGateway) dispatchBackground(p *MQTTLocationProvider, m backgroundMessage) {
	if len(m.Positions) == 0 {
		return
	}

	task := m.Task
	if task == "" {
		task = g.defaultTask
	}

	positions := make([]ports.RawPosition, 0, len(m.Positions))
	for _, pos := range m.Positions {
		positions = append(positions, pos.toRaw())
	}
	p.remember(positions[len(positions)-1])

	if g.dispatcher == nil {
		log.Printf("mqtt background batch dropped driver_id=%s task=%s: no dispatcher", p.driverID, task)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	err := g.dispatcher.Dispatch(ctx, task, ports.BackgroundTaskData{DriverID: p.driverID, Positions: positions})
	if err == nil {
		return
	}

	log.Printf("mqtt background dispatch failed driver_id=%s task=%s err=%v", p.driverID, task, err)
	if errors.Is(err, domain.ErrSessionNotFound) {
		if err := p.StopBackgroundUpdates(ctx, task); err != nil {
			log.Printf("mqtt stop background failed driver_id=%s task=%s err=%v", p.driverID, task, err)
		}
	}
}

// publish sends a control command to one device.
func (g *MQTTGateway) publish(driverID string, retained bool, cmd controlMessage) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}

	topic := fmt.Sprintf("drivers/%s/control", driverID)
	token := g.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: mqtt publish %s timed out", domain.ErrProviderUnavailable, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqtt publish %s: %v", domain.ErrProviderUnavailable, topic, err)
	}
	return nil
}

type permissionsMessage struct {
	Foreground ports.PermissionStatus `json:"foreground"`
	Background ports.PermissionStatus `json:"background"`
}

// positionMessage is one device fix. Timestamp is in Unix milliseconds;
// zero means "now".
type positionMessage struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Timestamp int64    `json:"timestamp"`
}

func (m positionMessage) toRaw() ports.RawPosition {
	raw := ports.RawPosition{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Accuracy:  m.Accuracy,
		Speed:     m.Speed,
		Heading:   m.Heading,
	}
	if m.Timestamp > 0 {
		raw.Timestamp = time.UnixMilli(m.Timestamp)
	}
	return raw
}

type backgroundMessage struct {
	Task      string            `json:"task"`
	Positions []positionMessage `json:"positions"`
}

type controlMessage struct {
	Command          string  `json:"command"`
	Task             string  `json:"task,omitempty"`
	IntervalMs       int64   `json:"interval_ms,omitempty"`
	MinDisplacementM float64 `json:"min_displacement_m,omitempty"`
}
