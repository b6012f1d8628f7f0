package publisher

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

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/internal/config"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/pkg/models"
)

// Publish targets, as reported in metrics and logs
const (
	TargetHomeAssistant = "home_assistant"
	TargetMQTT          = "mqtt"
)

const publishTimeout = 10 * time.Second

// Ledger remembers which days were already published
type Ledger interface {
	IsPublished(commodity models.Commodity, date models.Date) (bool, error)
	MarkPublished(commodity models.Commodity, record models.UsageRecord, at time.Time) error
}

// Publisher sends the latest complete day of each commodity to Home Assistant and/or MQTT
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client

	ledger  Ledger
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// Option configures a Publisher
type Option func(*Publisher)

// WithLedger skips days already recorded in l and records new ones
func WithLedger(l Ledger) Option {
	return func(p *Publisher) {
		p.ledger = l
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics counts published readings
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig, topicPrefix string, opts ...Option) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.ElectricityEntityID == "" && haCfg.NaturalGasEntityID == "" {
			return nil, fmt.Errorf("at least one Home Assistant entity_id is required when enabled")
		}
	}

	p := &Publisher{
		topicPrefix: topicPrefix,
		haConfig:    haCfg,
		httpClient:  &http.Client{Timeout: publishTimeout},
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		// Configure MQTT client options
		clientOpts := mqtt.NewClientOptions()
		clientOpts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		clientOpts.SetClientID("pseusage-" + uuid.NewString()[:8])
		clientOpts.SetAutoReconnect(true)
		clientOpts.SetConnectRetry(true)
		clientOpts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			clientOpts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			clientOpts.SetPassword(mqttCfg.Password)
		}

		// Create and connect client
		client := mqtt.NewClient(clientOpts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
		p.client = client
	}

	return p, nil
}

// Enabled reports whether any publish target is configured
func (p *Publisher) Enabled() bool {
	return p.client != nil || p.haConfig.Enabled
}

// PublishLatest publishes the latest complete day of each commodity that was not
// published before. It returns how many readings were sent.
func (p *Publisher) PublishLatest(ctx context.Context, usage models.EnergyUsage) (int, error) {
	var errs []error
	sent := 0

	for _, commodity := range []models.Commodity{models.Electricity, models.NaturalGas} {
		log := p.logger.WithField("commodity", commodity)

		latest, ok := models.LatestCompleteDay(usage.Records(commodity))
		if !ok {
			log.Debug("No complete day to publish")
			continue
		}
		log = log.WithField("date", latest.Date.String())

		if p.ledger != nil {
			published, err := p.ledger.IsPublished(commodity, latest.Date)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if published {
				log.Debug("Already published")
				continue
			}
		}

		if err := p.Publish(ctx, commodity, latest); err != nil {
			log.WithError(err).Error("Failed to publish usage")
			errs = append(errs, fmt.Errorf("publishing %s: %w", commodity, err))
			continue
		}
		sent++
		log.WithField("value", latest.Value).Info("Published usage")

		if p.ledger != nil {
			if err := p.ledger.MarkPublished(commodity, latest, time.Now()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return sent, errors.Join(errs...)
}

// Publish sends one daily reading to every configured target
func (p *Publisher) Publish(ctx context.Context, commodity models.Commodity, record models.UsageRecord) error {
	if !p.Enabled() {
		return fmt.Errorf("no publish target is enabled in config")
	}

	if p.haConfig.Enabled {
		if entityID := p.entityID(commodity); entityID != "" {
			if err := p.publishHA(ctx, entityID, record); err != nil {
				return fmt.Errorf("Home Assistant: %w", err)
			}
			p.metrics.Published(string(commodity), TargetHomeAssistant)
		}
	}

	if p.client != nil {
		if err := p.publishMQTT(commodity, record); err != nil {
			return fmt.Errorf("MQTT: %w", err)
		}
		p.metrics.Published(string(commodity), TargetMQTT)
	}

	return nil
}

func (p *Publisher) entityID(commodity models.Commodity) string {
	switch commodity {
	case models.Electricity:
		return p.haConfig.ElectricityEntityID
	case models.NaturalGas:
		return p.haConfig.NaturalGasEntityID
	default:
		return ""
	}
}

// HAPayload matches the Home Assistant backfill service call data
type HAPayload struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	Unit        string `json:"unit_of_measurement"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated"`
}

// publishHA posts a reading to the AppDaemon backfill endpoint
func (p *Publisher) publishHA(ctx context.Context, entityID string, record models.UsageRecord) error {
	apiURL := strings.TrimRight(p.haConfig.URL, "/") + "/api/appdaemon/backfill_state"
	timestamp := record.Date.Format(time.RFC3339)

	payload := HAPayload{
		EntityID:    entityID,
		State:       fmt.Sprintf("%.2f", record.Value),
		Unit:        string(record.Unit),
		LastChanged: timestamp,
		LastUpdated: timestamp,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read error response body for debugging
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// MQTTPayload is the retained message published for each commodity
type MQTTPayload struct {
	Date              string  `json:"date"`
	Usage             float64 `json:"usage"`
	UnitOfMeasurement string  `json:"unit_of_measurement"`
}

// Topic returns the retained topic for a commodity
func (p *Publisher) Topic(commodity models.Commodity) string {
	return fmt.Sprintf("%s/%s/latest", p.topicPrefix, commodity)
}

func (p *Publisher) publishMQTT(commodity models.Commodity, record models.UsageRecord) error {
	body, err := json.Marshal(MQTTPayload{
		Date:              record.Date.String(),
		Usage:             record.Value,
		UnitOfMeasurement: string(record.Unit),
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(p.Topic(commodity), 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", p.Topic(commodity))
	}
	return token.Error()
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
