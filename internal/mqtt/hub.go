package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"hionago/internal/domain"
)

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Advancer is the playback side of the advance topic.
type Advancer interface {
	Advance()
}

// WindowSink receives foreground window titles from the screen watcher.
type WindowSink interface {
	SetWindowTitle(title string)
}

// Hub bridges the daemon to the overlay over MQTT: internal events go
// out on per-kind topics, and the overlay's advance clicks plus the
// screen watcher's window reports come back in.
type Hub struct {
	cfg      HubConfig
	client   paho.Client
	advancer Advancer
	windows  WindowSink
	logger   *slog.Logger
}

func NewHub(cfg HubConfig, advancer Advancer, windows WindowSink, logger *slog.Logger) *Hub {
	return &Hub{cfg: cfg, advancer: advancer, windows: windows, logger: logger}
}

func (h *Hub) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if err := h.subscribeHandlers(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		h.client.Disconnect(100)
	}()

	return nil
}

func (h *Hub) subscribeHandlers() error {
	if token := h.client.Subscribe(TopicOverlayAdvance(h.cfg.TopicPrefix), 1, h.handleAdvance); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := h.client.Subscribe(TopicScreenWindow(h.cfg.TopicPrefix), 1, h.handleWindow); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (h *Hub) handleAdvance(_ paho.Client, _ paho.Message) {
	h.advancer.Advance()
}

func (h *Hub) handleWindow(_ paho.Client, msg paho.Message) {
	title := strings.TrimSpace(string(msg.Payload()))
	h.windows.SetWindowTitle(title)
	h.logger.Debug("window title updated", "title", title)
}

// eventEnvelope wraps every outgoing event so the overlay can dedupe
// redeliveries after a reconnect.
type eventEnvelope struct {
	EventID string       `json:"event_id"`
	Kind    string       `json:"kind"`
	SentAt  time.Time    `json:"sent_at"`
	Payload domain.Event `json:"payload"`
}

// PublishEvent mirrors one internal event to the overlay. Failures are
// logged and swallowed: the overlay transport must never stall the
// pipeline.
func (h *Hub) PublishEvent(ev domain.Event) {
	if h.client == nil {
		return
	}
	body, err := json.Marshal(eventEnvelope{
		EventID: uuid.NewString(),
		Kind:    ev.Kind(),
		SentAt:  time.Now(),
		Payload: ev,
	})
	if err != nil {
		h.logger.Warn("marshal event", "kind", ev.Kind(), "error", err)
		return
	}
	topic := TopicOverlayEvent(h.cfg.TopicPrefix, ev.Kind())
	if token := h.client.Publish(topic, 0, false, body); token.Wait() && token.Error() != nil {
		h.logger.Warn("publish event", "topic", topic, "error", token.Error())
	}
}
