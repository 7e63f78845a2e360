package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/models"
)

// Publisher fans created alerts out to external consumers. Publish failures
// must never block or fail alert creation.
type Publisher interface {
	Publish(ctx context.Context, alert *models.SecurityAlert) error
}

// NATSPublisher publishes alerts as JSON messages on a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS. The connection reconnects on its own;
// a publish during an outage is buffered by the client.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logrus.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish sends one alert
func (p *NATSPublisher) Publish(_ context.Context, alert *models.SecurityAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", alert.ID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
