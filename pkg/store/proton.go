package store

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/timeplus-io/proton-go-driver/v2"
	"github.com/timeplus-io/proton-go-driver/v2/lib/driver"

	"github.com/trapsight/trap-telemetry/pkg/config"
)

// ProtonClient is a Client backed by the Timeplus Proton native protocol
type ProtonClient struct {
	conn      driver.Conn
	workspace string
	address   string
	opts      *proton.Options
}

var _ Client = (*ProtonClient)(nil)

// NewProtonClient connects to Timeplus and verifies the connection with
// ping retries before returning.
func NewProtonClient(cfg *config.TimeplusConfig) (*ProtonClient, error) {
	logrus.Infof("Connecting to Timeplus at %s (workspace: %s)", cfg.Address, cfg.Workspace)

	address := cfg.Address
	address = strings.TrimPrefix(address, "http://")
	address = strings.TrimPrefix(address, "https://")

	host := address
	port := "8464" // Default native port
	if strings.Contains(address, ":") {
		parts := strings.Split(address, ":")
		host = parts[0]
		port = parts[1]
	}
	connectionAddr := host + ":" + port

	opts := &proton.Options{
		Addr: []string{connectionAddr},
		Auth: proton.Auth{
			Database: cfg.Workspace,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     time.Second * 10,
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour * 2,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	}

	conn, err := proton.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to Timeplus: %w", err)
	}

	var pingErr error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pingErr = conn.Ping(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		logrus.Warnf("Failed to ping Timeplus (attempt %d/10): %v", i+1, pingErr)
		time.Sleep(3 * time.Second)
	}
	if pingErr != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping Timeplus after multiple attempts: %w", pingErr)
	}

	logrus.Info("Successfully connected to Timeplus")

	return &ProtonClient{
		conn:      conn,
		workspace: cfg.Workspace,
		address:   connectionAddr,
		opts:      opts,
	}, nil
}

// Close closes the underlying connection
func (c *ProtonClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// EnsureStreams creates the event, profile and alert streams when missing.
// Profiles and alerts are mutable streams so inserts overwrite by key.
func (c *ProtonClient) EnsureStreams(ctx context.Context) error {
	if err := c.createStream(ctx, EventsStream, eventsSchema()); err != nil {
		return err
	}
	if err := c.createMutableStream(ctx, ProfilesStream, profilesSchema(), []string{"source_ip"}); err != nil {
		return err
	}
	return c.createMutableStream(ctx, AlertsStream, alertsSchema(), []string{"id"})
}

func (c *ProtonClient) createStream(ctx context.Context, name string, schema []Column) error {
	query := fmt.Sprintf("CREATE STREAM IF NOT EXISTS `%s` (%s)", name, columnsDDL(schema))
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", name, err)
	}
	return nil
}

func (c *ProtonClient) createMutableStream(ctx context.Context, name string, schema []Column, primaryKey []string) error {
	exists, err := c.streamExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check if stream exists: %w", err)
	}
	if exists {
		logrus.Infof("Stream %s already exists", name)
		return nil
	}

	query := fmt.Sprintf("CREATE MUTABLE STREAM `%s` (%s) PRIMARY KEY (%s)",
		name, columnsDDL(schema), strings.Join(primaryKey, ", "))
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create mutable stream '%s': %w", name, err)
	}

	logrus.Infof("Created mutable stream %s", name)
	return nil
}

func columnsDDL(schema []Column) string {
	fields := make([]string, len(schema))
	for i, col := range schema {
		nullable := ""
		if col.Nullable {
			nullable = " NULL"
		}
		fields[i] = fmt.Sprintf("`%s` %s%s", col.Name, col.Type, nullable)
	}
	return strings.Join(fields, ", ")
}

func (c *ProtonClient) streamExists(ctx context.Context, name string) (bool, error) {
	escapedName := strings.ReplaceAll(name, "'", "''")
	query := fmt.Sprintf("SHOW STREAMS LIKE '%s'", escapedName)
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to execute SHOW STREAMS: %w", err)
	}
	defer rows.Close()

	exists := rows.Next()
	if rows.Err() != nil {
		return false, fmt.Errorf("error checking rows from SHOW STREAMS: %w", rows.Err())
	}
	return exists, nil
}

// ExecuteQuery executes a query and returns the result rows. EOF errors
// trigger a reconnect and retry with exponential backoff.
func (c *ProtonClient) ExecuteQuery(ctx context.Context, query string) ([]map[string]interface{}, error) {
	maxRetries := 5
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying query execution (attempt %d/%d) after error: %v", attempt+1, maxRetries, lastErr)
			c.maybeReconnect(lastErr)
			sleepWithJitter(attempt)
		}

		queryCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		rows, err := c.conn.Query(queryCtx, query)
		if err != nil {
			cancel()
			lastErr = err
			if strings.Contains(err.Error(), "EOF") {
				logrus.Warnf("EOF error during query execution, will retry: %v", err)
				continue
			}
			logrus.Errorf("Error executing query: %v", err)
			continue
		}

		result, err := scanRows(rows)
		rows.Close()
		cancel()
		if err != nil {
			lastErr = err
			if strings.Contains(err.Error(), "EOF") {
				logrus.Warnf("EOF error during row iteration, will retry: %v", err)
				continue
			}
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to execute query after %d attempts: %w", maxRetries, lastErr)
}

func scanRows(rows driver.Rows) ([]map[string]interface{}, error) {
	columnNames := rows.Columns()
	columnTypes := rows.ColumnTypes()

	result := make([]map[string]interface{}, 0)
	for rows.Next() {
		scanArgs := make([]interface{}, len(columnNames))
		for i, ct := range columnTypes {
			scanArgs[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]interface{})
		for i, name := range columnNames {
			rowMap[name] = reflect.ValueOf(scanArgs[i]).Elem().Interface()
		}
		result = append(result, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

// insertIntoStream inserts one row into a stream with retries. On mutable
// streams this is an upsert because of the primary key.
func (c *ProtonClient) insertIntoStream(ctx context.Context, streamName string, columns []string, values []interface{}) error {
	maxRetries := 5
	var lastErr error

	query := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)",
		streamName, strings.Join(columns, ", "), formatValues(values))

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			logrus.Warnf("Retrying insertion to stream '%s' (attempt %d/%d) after error: %v",
				streamName, attempt+1, maxRetries, lastErr)
			c.maybeReconnect(lastErr)
			sleepWithJitter(attempt)
		}

		err := c.conn.Exec(ctx, query)
		if err == nil {
			return nil
		}
		lastErr = err
		logrus.Warnf("Insert failed (attempt %d/%d): %v", attempt+1, maxRetries, err)
	}

	return fmt.Errorf("failed to insert into stream after %d attempts: %w", maxRetries, lastErr)
}

func formatValues(values []interface{}) string {
	formatted := make([]string, len(values))
	for i, val := range values {
		switch v := val.(type) {
		case nil:
			formatted[i] = "null"
		case string:
			formatted[i] = fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
		case time.Time:
			formatted[i] = fmt.Sprintf("'%s'", v.Format("2006-01-02 15:04:05.000"))
		case bool:
			formatted[i] = fmt.Sprintf("%t", v)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			formatted[i] = fmt.Sprintf("%d", v)
		case float32, float64:
			formatted[i] = fmt.Sprintf("%f", v)
		default:
			formatted[i] = fmt.Sprintf("'%v'", v)
		}
	}
	return strings.Join(formatted, ", ")
}

func (c *ProtonClient) maybeReconnect(lastErr error) {
	if lastErr == nil || !strings.Contains(lastErr.Error(), "EOF") {
		return
	}
	reconnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := c.reconnect(reconnCtx); err != nil {
		logrus.Errorf("Failed to reconnect: %v", err)
	}
}

func sleepWithJitter(attempt int) {
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	jitter := time.Duration(float64(backoff) * (0.75 + 0.5*float64(time.Now().Nanosecond())/float64(1e9)))
	time.Sleep(jitter)
}

// reconnect tries to reestablish the connection with retries
func (c *ProtonClient) reconnect(ctx context.Context) error {
	logrus.Info("Attempting to reconnect to Timeplus...")

	if c.conn != nil {
		c.conn.Close()
	}

	var err error
	var conn driver.Conn

	maxRetries := 5
	baseDelay := 1 * time.Second

	for i := 0; i < maxRetries; i++ {
		delay := time.Duration(1<<uint(i)) * baseDelay
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		logrus.Infof("Reconnection attempt %d/%d (delay: %v)...", i+1, maxRetries, delay)

		// Add jitter to prevent thundering herd
		jitter := time.Duration(float64(delay) * (0.5 + 0.5*float64(time.Now().Nanosecond())/float64(1e9)))
		time.Sleep(jitter)

		conn, err = proton.Open(c.opts)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			pingErr := conn.Ping(pingCtx)
			cancel()

			if pingErr == nil {
				c.conn = conn
				logrus.Info("Successfully reconnected to Timeplus")
				return nil
			}

			logrus.Warnf("Connection established but ping failed: %v", pingErr)
			conn.Close()
			err = pingErr
		} else {
			logrus.Warnf("Failed to reconnect: %v", err)
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", maxRetries, err)
}
