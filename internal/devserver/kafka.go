package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-agent/internal/models"
)

// locationPublisher streams driver location updates to Kafka. A nil
// publisher is valid and drops everything, so the devserver works without
// a broker.
type locationPublisher struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func newLocationPublisher(brokers []string, topic string, log *slog.Logger) *locationPublisher {
	if len(brokers) == 0 {
		return nil
	}
	return &locationPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		log: log,
	}
}

type locationEvent struct {
	DriverID int64     `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	At       time.Time `json:"at"`
}

func (p *locationPublisher) Publish(ctx context.Context, driverID int64, c models.Coord) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(locationEvent{DriverID: driverID, Lat: c.Lat, Lon: c.Lon, At: time.Now().UTC()})
	if err != nil {
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(driverID, 10)),
		Value: payload,
	})
	if err != nil {
		p.log.Warn("kafka publish failed", "error", err)
	}
}

func (p *locationPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
