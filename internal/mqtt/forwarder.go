package mqtt

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

	"github.com/nugget/gitbot/internal/config"
	"github.com/nugget/gitbot/internal/events"
)

// DefaultStatsInterval is how often the retained stats payload is
// refreshed.
const DefaultStatsInterval = time.Minute

// publisher is the subset of [autopaho.ConnectionManager] the forward
// loop needs.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Forwarder relays bus events to the broker.
type Forwarder struct {
	cfg           config.MQTTConfig
	instanceID    string
	stats         *DailyTurns
	statsInterval time.Duration
	logger        *slog.Logger
	cm            *autopaho.ConnectionManager
}

// New creates a Forwarder but does not connect. Call [Forwarder.Start]
// to connect and begin forwarding.
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		cfg:           cfg,
		instanceID:    instanceID,
		stats:         NewDailyTurns(nil),
		statsInterval: DefaultStatsInterval,
		logger:        logger,
	}
}

// eventPayload is the JSON published for each event.
type eventPayload struct {
	Instance string `json:"instance"`
	events.Event
}

// Start connects to the broker, subscribes to bus and forwards events
// in the background until ctx is cancelled. It returns once the first
// connection attempt has finished; autopaho keeps reconnecting after
// that.
func (f *Forwarder) Start(ctx context.Context, bus *events.Bus) error {
	brokerURL, err := url.Parse(f.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := f.cfg.ClientID
	if clientID == "" {
		clientID = "gitbot-" + f.instanceID
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       uint16(f.cfg.KeepAlive),
		ConnectUsername: f.cfg.Username,
		ConnectPassword: []byte(f.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   f.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			f.logger.Info("mqtt connected to broker", "broker", f.cfg.Broker)
			f.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			f.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	f.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		f.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ch := bus.Subscribe(256)
	go func() {
		f.run(ctx, cm, ch)
		if n := bus.Dropped(ch); n > 0 {
			f.logger.Warn("mqtt forwarder fell behind", "dropped_events", n)
		}
		bus.Unsubscribe(ch)
	}()
	return nil
}

// Stop publishes "offline" and disconnects. ctx bounds both steps.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cm == nil {
		return nil
	}
	f.publishAvailability(ctx, f.cm, "offline")
	return f.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (f *Forwarder) availabilityTopic() string {
	return f.cfg.BaseTopic + "/availability"
}

func (f *Forwarder) eventsTopic() string {
	return f.cfg.BaseTopic + "/events"
}

func (f *Forwarder) statsTopic() string {
	return f.cfg.BaseTopic + "/stats"
}

// --- Forward loop ---

func (f *Forwarder) run(ctx context.Context, pub publisher, ch <-chan events.Event) {
	ticker := time.NewTicker(f.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			f.stats.Observe(e)
			f.forward(ctx, pub, e)
		case <-ticker.C:
			f.publishStats(ctx, pub)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, pub publisher, e events.Event) {
	payload, err := json.Marshal(eventPayload{Instance: f.instanceID, Event: e})
	if err != nil {
		f.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.eventsTopic(),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		f.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}

func (f *Forwarder) publishStats(ctx context.Context, pub publisher) {
	payload, err := json.Marshal(f.stats.Snapshot())
	if err != nil {
		f.logger.Error("mqtt marshal stats", "error", err)
		return
	}
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.statsTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		f.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (f *Forwarder) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   f.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		f.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		f.logger.Info("mqtt availability published", "status", status)
	}
}
