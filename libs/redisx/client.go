package redisx

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// OptionsFromEnv reads REDIS_ADDR (or REDIS_HOST + REDIS_PORT), REDIS_PASSWORD,
// REDIS_DB and REDIS_TLS.
func OptionsFromEnv() (Options, error) {
	addr := config.String("REDIS_ADDR", "")
	if host, port := config.String("REDIS_HOST", ""), config.String("REDIS_PORT", ""); host != "" && port != "" {
		addr = host + ":" + port
	}
	db, err := config.Int("REDIS_DB", 0)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       db,
		TLS:      config.Bool("REDIS_TLS", false),
	}, nil
}

// Open connects and pings. An empty Addr is an error so callers can decide whether
// Redis is optional for them.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address not configured")
	}
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func ReadyCheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}
}
