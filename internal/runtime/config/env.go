package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment key read by LoadEnv.
const EnvPrefix = "RTPS_"

// LoadEnv builds a Config from the given .env files and the process
// environment. Process variables win over file values. Missing files are
// an error; call with no arguments to read the environment only.
func LoadEnv(files ...string) (*Config, error) {
	values := map[string]string{}
	if len(files) > 0 {
		read, err := godotenv.Read(files...)
		if err != nil {
			return nil, fmt.Errorf("config: read env files: %w", err)
		}
		values = read
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			values[k] = v
		}
	}
	return FromEnvMap(values)
}

// FromEnvMap builds a Config from RTPS_* keys.
func FromEnvMap(values map[string]string) (*Config, error) {
	e := envReader{values: values}
	cfg := &Config{
		ParticipantName:    e.getString("PARTICIPANT_NAME"),
		DomainID:           uint32(e.getUint("DOMAIN_ID", 32)),
		LocalAddress:       e.getString("LOCAL_ADDRESS"),
		FilterAddress:      e.getString("FILTER_ADDRESS"),
		Partition:          e.getString("PARTITION"),
		Properties:         e.getPairs("PROPERTIES"),
		Transport:          e.getString("TRANSPORT"),
		ChannelBufferSize:  int64(e.getInt("CHANNEL_BUFFER_SIZE")),
		KafkaBrokers:       e.getList("KAFKA_BROKERS"),
		KafkaConsumerGroup: e.getString("KAFKA_CONSUMER_GROUP"),
		RabbitMQURL:        e.getString("RABBITMQ_URL"),
		NATSURL:            e.getString("NATS_URL"),
		NATSStreamName:     e.getString("NATS_STREAM"),
		PostgresURL:        e.getString("POSTGRES_URL"),
		HTTPServerAddress:  e.getString("HTTP_SERVER_ADDRESS"),
		HTTPPublisherURL:   e.getString("HTTP_PUBLISHER_URL"),
		IOFile:             e.getString("IO_FILE"),
		AWSRegion:          e.getString("AWS_REGION"),
		AWSAccountID:       e.getString("AWS_ACCOUNT_ID"),
		AWSAccessKeyID:     e.getString("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: e.getString("AWS_SECRET_ACCESS_KEY"),
		AWSEndpoint:        e.getString("AWS_ENDPOINT"),
		AnnounceInterval:   e.getDuration("ANNOUNCE_INTERVAL"),
		LeaseDuration:      e.getDuration("LEASE_DURATION"),
		HistoryDepth:       e.getInt("HISTORY_DEPTH"),
		ReaderQueueDepth:   e.getInt("READER_QUEUE_DEPTH"),
		LogLevel:           e.getString("LOG_LEVEL"),
		Codec:              e.getString("CODEC"),
		MetricsEnabled:     e.getBool("METRICS_ENABLED"),
		MetricsPort:        e.getInt("METRICS_PORT"),

		IntrospectionEnabled:            e.getBool("INTROSPECTION_ENABLED"),
		IntrospectionPort:               e.getInt("INTROSPECTION_PORT"),
		IntrospectionCORSAllowedOrigins: e.getList("INTROSPECTION_CORS_ORIGINS"),
	}
	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envReader struct {
	values map[string]string
	errs   []string
}

func (e *envReader) getString(key string) string {
	return strings.TrimSpace(e.values[EnvPrefix+key])
}

func (e *envReader) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s%s=%q: %v", EnvPrefix, key, raw, err))
}

func (e *envReader) getInt(key string) int {
	raw := e.getString(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
	}
	return v
}

func (e *envReader) getUint(key string, bits int) uint64 {
	raw := e.getString(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		e.fail(key, raw, err)
	}
	return v
}

func (e *envReader) getBool(key string) bool {
	raw := e.getString(key)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
	}
	return v
}

func (e *envReader) getDuration(key string) time.Duration {
	raw := e.getString(key)
	if raw == "" {
		return 0
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
	}
	return v
}

func (e *envReader) getList(key string) []string {
	raw := e.getString(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getPairs parses "k1=v1,k2=v2".
func (e *envReader) getPairs(key string) map[string]string {
	items := e.getList(key)
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			e.fail(key, item, fmt.Errorf("expected key=value"))
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid environment: %s", strings.Join(e.errs, "; "))
}
