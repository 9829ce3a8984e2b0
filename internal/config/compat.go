package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads environment variables for settings that are not
// represented by dedicated CLI flags in the serve command.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("CHAT_SERVICE_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_CACHE_CHAT_INDEX_TTL", &c.ChatIndexTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_CACHE_LAST_MESSAGE_TTL", &c.LastMessageTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_CACHE_UNREAD_TTL", &c.UnreadCounterTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_PRESENCE_CONNECTION_TTL", &c.ConnectionTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_PRESENCE_PREVIOUS_CONNECTION_TTL", &c.PreviousConnectionTTL); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_MESSAGE_RETENTION", &c.MessageRetention); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_SERVICE_MESSAGE_PREVIEW_LENGTH", &c.PreviewLength); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_SERVICE_REPLY_PREVIEW_LENGTH", &c.ReplyPreviewLength); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_TASK_RETRY_DELAY", &c.TaskRetryDelay); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_SERVICE_TASK_BATCH_SIZE", &c.TaskBatchSize); err != nil {
		return err
	}
	applyStringEnv("CHAT_SERVICE_KAFKA_TOPIC", &c.KafkaTopic)

	if raw := strings.TrimSpace(os.Getenv("CHAT_SERVICE_MAX_BODY_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid CHAT_SERVICE_MAX_BODY_SIZE: %w", parseErr)
		}
		c.MaxBodySize = size
	}
	return nil
}

// Validate checks limits that would otherwise surface as confusing runtime behavior.
func (c *Config) Validate() error {
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("max message length must be positive")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("page size: default %d must be positive and not exceed max %d", c.DefaultPageSize, c.MaxPageSize)
	}
	if c.ConnectionTTL <= 0 || c.PreviousConnectionTTL <= 0 {
		return fmt.Errorf("presence TTLs must be positive")
	}
	if c.ChatIndexTTL <= 0 || c.LastMessageTTL <= 0 || c.UnreadCounterTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.MessageRetention < 0 {
		return fmt.Errorf("message retention must not be negative")
	}
	return nil
}

// KafkaBrokerList splits KafkaBrokers into trimmed, non-empty addresses.
func (c *Config) KafkaBrokerList() []string {
	if c == nil {
		return nil
	}
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Go duration first (e.g. 30s, 5m).
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}

	// Minimal ISO-8601 support: PT#H#M#S
	if !strings.HasPrefix(v, "PT") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "PT")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch rest[i] {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

func parseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
