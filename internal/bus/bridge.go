package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/lumen-home/lumen/internal/chat"
	"github.com/lumen-home/lumen/internal/command"
	"github.com/lumen-home/lumen/internal/voice"
)

// Config holds broker connection settings.
type Config struct {
	Broker            string
	Username          string
	Password          string
	DeviceName        string
	StatusIntervalSec int

	// InstanceID disambiguates the MQTT client ID when several
	// installations share a device name. See LoadOrCreateInstanceID.
	InstanceID string
}

// VoiceStatus exposes the voice loop snapshot for status publishing.
type VoiceStatus interface {
	Status() voice.Status
}

// turnRequest is the inbound payload on the request topic.
type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Stream         bool   `json:"stream,omitempty"`
}

// turnResponse is published on the result topic.
type turnResponse struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Language       string `json:"language"`
	Error          string `json:"error,omitempty"`
}

// statusPayload is published periodically on the status topic.
type statusPayload struct {
	State          string `json:"state"`
	Turns          int    `json:"turns"`
	ActiveSessions int    `json:"active_sessions"`
	Version        string `json:"version"`
	Uptime         string `json:"uptime"`
}

// VersionInfo supplies build facts for status publishing.
type VersionInfo interface {
	Version() string
	Uptime() time.Duration
}

// Bridge runs the MQTT side of the assistant.
type Bridge struct {
	cfg     Config
	topics  topics
	chat    *chat.Controller
	voice   VoiceStatus
	version VersionInfo
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
}

// NewBridge creates a bridge; Start connects it.
func NewBridge(cfg Config, chatCtl *chat.Controller, voiceStatus VoiceStatus, version VersionInfo, logger *slog.Logger) *Bridge {
	if cfg.StatusIntervalSec <= 0 {
		cfg.StatusIntervalSec = 30
	}
	return &Bridge{
		cfg:     cfg,
		topics:  topics{device: cfg.DeviceName},
		chat:    chatCtl,
		voice:   voiceStatus,
		version: version,
		logger:  logger,
	}
}

// Start connects to the broker, subscribes to turn requests, and runs
// the status loop until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.topics.availability(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected", "broker", b.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: b.topics.request(), QoS: 1},
				},
			}); err != nil {
				b.logger.Error("mqtt subscribe failed", "topic", b.topics.request(), "error", err)
			}
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.clientID(),
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleRequest(ctx, pr.Packet)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	b.statusLoop(ctx)
	return nil
}

func (b *Bridge) clientID() string {
	id := "lumen-" + b.cfg.DeviceName
	if len(b.cfg.InstanceID) >= 8 {
		id += "-" + b.cfg.InstanceID[:8]
	}
	return id
}

// Announce publishes a due calendar event on the reminder topic so UI
// clients can surface it.
func (b *Bridge) Announce(ctx context.Context, eventType, title string, due time.Time) {
	payload, err := json.Marshal(map[string]string{
		"type":  eventType,
		"title": title,
		"due":   due.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	b.publish(ctx, b.topics.reminder(), payload, 1, false)
}

// Stop announces offline and disconnects.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// handleRequest processes one inbound turn request. Each request runs
// on its own goroutine so a slow turn does not block the receive path.
func (b *Bridge) handleRequest(ctx context.Context, pkt *paho.Publish) {
	if pkt.Topic != b.topics.request() {
		return
	}

	var req turnRequest
	if err := json.Unmarshal(pkt.Payload, &req); err != nil {
		b.logger.Warn("mqtt bad turn request", "error", err)
		return
	}
	if req.Text == "" {
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = "mqtt"
	}

	go b.runTurn(ctx, req)
}

func (b *Bridge) runTurn(ctx context.Context, req turnRequest) {
	var resp turnResponse
	resp.ConversationID = req.ConversationID

	if req.Stream {
		// Chunks stream to a per-turn topic; the turn ID is not known
		// until completion, so a request-scoped stream ID is derived
		// from the conversation.
		streamTopic := b.topics.stream(req.ConversationID)
		result, err := b.chat.SubmitTextStream(ctx, req.ConversationID, req.Text, func(chunk string) {
			b.publish(ctx, streamTopic, []byte(chunk), 0, false)
		})
		resp = b.toResponse(req, result, err)
	} else {
		result, err := b.chat.SubmitText(ctx, req.ConversationID, req.Text)
		resp = b.toResponse(req, result, err)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("mqtt marshal turn response", "error", err)
		return
	}
	b.publish(ctx, b.topics.result(), payload, 1, true)
}

func (b *Bridge) toResponse(req turnRequest, result *command.TurnResult, err error) turnResponse {
	resp := turnResponse{ConversationID: req.ConversationID}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.TurnID = result.ID
	resp.Reply = result.Reply
	resp.Language = result.Language
	return resp
}

func (b *Bridge) statusLoop(ctx context.Context) {
	interval := time.Duration(b.cfg.StatusIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishStatus(ctx)
		}
	}
}

func (b *Bridge) publishStatus(ctx context.Context) {
	if b.cm == nil {
		return
	}

	status := statusPayload{
		ActiveSessions: b.chat.ActiveSessions(),
		Version:        b.version.Version(),
		Uptime:         b.version.Uptime().Truncate(time.Second).String(),
	}
	if b.voice != nil {
		vs := b.voice.Status()
		status.State = vs.State.String()
		status.Turns = vs.Turns
	}

	payload, err := json.Marshal(status)
	if err != nil {
		b.logger.Error("mqtt marshal status", "error", err)
		return
	}
	b.publish(ctx, b.topics.status(), payload, 0, true)
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.topics.availability(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "state", state, "error", err)
	}
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) {
	if b.cm == nil {
		return
	}
	if _, err := b.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		b.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
}
