package config

import (
	"fmt"
	"time"
)

const (
	DefaultMaxInlineSize  = 5 << 20
	DefaultMaxUploadSize  = 100 << 20
	DefaultMaxMessageSize = 8 << 20
	DefaultCacheTTL       = 30 * time.Second
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	UploadDir      string
	AllowedOrigins []string

	// RedisURL enables the directory cache when set.
	RedisURL string
	CacheTTL time.Duration

	// MaxInlineSize caps the decoded size of a file carried inside a publish event.
	MaxInlineSize int64
	// MaxUploadSize caps the request body of an out-of-band upload.
	MaxUploadSize int64
	// MaxMessageSize is the websocket read limit.
	MaxMessageSize int64
}

func NewConfig(serverAddr, databaseDSN, uploadDir string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if uploadDir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}

	return &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		UploadDir:      uploadDir,
		AllowedOrigins: allowedOrigins,
		CacheTTL:       DefaultCacheTTL,
		MaxInlineSize:  DefaultMaxInlineSize,
		MaxUploadSize:  DefaultMaxUploadSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}, nil
}

// SetLimits overrides the size limits. A zero value keeps the current limit.
func (c *Config) SetLimits(maxInline, maxUpload, maxMessage int64) error {
	if maxInline < 0 || maxUpload < 0 || maxMessage < 0 {
		return fmt.Errorf("size limits cannot be negative")
	}
	if maxInline > 0 {
		c.MaxInlineSize = maxInline
	}
	if maxUpload > 0 {
		c.MaxUploadSize = maxUpload
	}
	if maxMessage > 0 {
		c.MaxMessageSize = maxMessage
	}

	// base64 inflates the payload by 4/3, so an inline file at the limit
	// must still fit in a single websocket frame
	if c.MaxInlineSize*4/3 > c.MaxMessageSize {
		return fmt.Errorf("max message size %d too small for inline limit %d", c.MaxMessageSize, c.MaxInlineSize)
	}

	return nil
}

// SetCache enables the directory cache.
func (c *Config) SetCache(redisURL string, ttl time.Duration) error {
	if redisURL != "" && ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	c.RedisURL = redisURL
	c.CacheTTL = ttl
	return nil
}
