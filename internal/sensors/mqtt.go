package sensors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"falldetect-service/internal/models"
)

// ErrNotConnected клиент MQTT не подключен к брокеру
var ErrNotConnected = errors.New("mqtt client not connected")

const (
	topicAccel   = "accel"
	topicGyro    = "gyro"
	topicBattery = "battery"
	topicControl = "control"
)

// MQTTConfig параметры подключения к брокеру
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	DeviceID    string
	QoS         byte
	Timeout     time.Duration
}

// ControlMessage команда устройству включить или выключить поток
type ControlMessage struct {
	Kind       models.SensorKind `json:"kind"`
	Enabled    bool              `json:"enabled"`
	IntervalMs int64             `json:"interval_ms"`
}

// MQTTTransport получает отсчеты и заряд батареи из топиков устройства и
// публикует команды управления потоками
type MQTTTransport struct {
	cfg       MQTTConfig
	client    mqtt.Client
	hub       *Hub
	onBattery func(models.BatteryReport)
	logger    *slog.Logger
}

// NewMQTTTransport создает транспорт. Подключение выполняет Connect.
func NewMQTTTransport(cfg MQTTConfig, hub *Hub, onBattery func(models.BatteryReport), logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("falldetect-%d", time.Now().Unix())
	}
	return &MQTTTransport{cfg: cfg, hub: hub, onBattery: onBattery, logger: logger}
}

// Topic возвращает полное имя топика устройства
func (t *MQTTTransport) Topic(suffix string) string {
	return strings.Join([]string{t.cfg.TopicPrefix, t.cfg.DeviceID, suffix}, "/")
}

// Connect подключается к брокеру; подписки восстанавливаются при
// каждом переподключении
func (t *MQTTTransport) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.OnConnect = t.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", slog.Any("error", err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(t.cfg.Timeout) {
		return fmt.Errorf("connect to %s: timeout", t.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", t.cfg.Broker, err)
	}
	t.client = client
	return nil
}

func (t *MQTTTransport) onConnect(client mqtt.Client) {
	filters := map[string]byte{
		t.Topic(topicAccel):   t.cfg.QoS,
		t.Topic(topicGyro):    t.cfg.QoS,
		t.Topic(topicBattery): t.cfg.QoS,
	}
	token := client.SubscribeMultiple(filters, t.handleMessage)
	if !token.WaitTimeout(t.cfg.Timeout) {
		t.logger.Error("mqtt subscribe timed out", slog.Duration("timeout", t.cfg.Timeout))
		return
	}
	if err := token.Error(); err != nil {
		t.logger.Error("mqtt subscribe failed", slog.Any("error", err))
		return
	}
	t.logger.Info("mqtt subscribed", slog.String("prefix", t.Topic("#")))
}

// Configure публикует команду управления потоком. Сообщение сохраняется
// брокером, чтобы устройство получило его после переподключения.
func (t *MQTTTransport) Configure(kind models.SensorKind, enabled bool, interval time.Duration) error {
	if t.client == nil || !t.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(ControlMessage{
		Kind:       kind,
		Enabled:    enabled,
		IntervalMs: interval.Milliseconds(),
	})
	if err != nil {
		return err
	}

	token := t.client.Publish(t.Topic(topicControl), t.cfg.QoS, true, payload)
	// вызывающий исполняется в цикле сессии и не ждет брокер
	go func() {
		if !token.WaitTimeout(t.cfg.Timeout) {
			t.logger.Error("mqtt publish timed out", slog.String("kind", string(kind)), slog.Duration("timeout", t.cfg.Timeout))
			return
		}
		if err := token.Error(); err != nil {
			t.logger.Error("mqtt publish failed", slog.String("kind", string(kind)), slog.Any("error", err))
		}
	}()
	return nil
}

// Close отключается от брокера
func (t *MQTTTransport) Close() {
	if t.client != nil {
		t.client.Disconnect(250)
	}
}

func (t *MQTTTransport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	t.handle(msg.Topic(), msg.Payload())
}

func (t *MQTTTransport) handle(topic string, payload []byte) {
	suffix := topic[strings.LastIndex(topic, "/")+1:]

	var kind models.SensorKind
	switch suffix {
	case topicAccel:
		kind = models.Acceleration
	case topicGyro:
		kind = models.Rotation
	case topicBattery:
		t.handleBattery(payload)
		return
	default:
		t.logger.Debug("mqtt message on unknown topic", slog.String("topic", topic))
		return
	}

	samples, err := decodeSamples(payload)
	if err != nil {
		t.logger.Debug("undecodable sensor message", slog.String("topic", topic), slog.Any("error", err))
		_ = t.hub.PushMalformed(kind)
		return
	}
	for _, p := range samples {
		// тип потока определяется топиком
		p.Kind = string(kind)
		if err := t.hub.PushPayload(p); err != nil {
			t.logger.Debug("sample not accepted", slog.String("topic", topic), slog.Any("error", err))
		}
	}
}

func (t *MQTTTransport) handleBattery(payload []byte) {
	var report models.BatteryReport
	if err := json.Unmarshal(payload, &report); err != nil {
		t.logger.Warn("invalid battery report", slog.Any("error", err))
		return
	}
	if t.onBattery != nil {
		t.onBattery(report)
	}
}

// decodeSamples принимает один отсчет или массив отсчетов
func decodeSamples(payload []byte) ([]models.SamplePayload, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var batch []models.SamplePayload
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var single models.SamplePayload
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, err
	}
	return []models.SamplePayload{single}, nil
}
