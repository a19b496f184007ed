package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/printer"
	"github.com/huddlekit/huddle/internal/session"
	"github.com/huddlekit/huddle/pkg/transport"
)

// loadConfig resolves the effective configuration: huddle.yml (explicit path,
// or the default path if present), overridden by any flags the user set.
func loadConfig() (*config.HuddleConfig, error) {
	var cfg *config.HuddleConfig

	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		}
	}

	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if sessionName == "" {
			return nil, printer.Error(
				"no session specified",
				"Huddle needs to know which session to join.",
				[]string{
					"Pass a session name:\n  huddle --session my-standup ...",
					"Or create a huddle.yml with a session field.",
				},
			)
		}
		cfg = config.Default(sessionName, nicknameFlag)
	}

	if sessionName != "" {
		cfg.Session = sessionName
	}
	if nicknameFlag != "" {
		cfg.Nickname = nicknameFlag
	}
	if redisAddr != "" {
		cfg.Transport.Kind = "redis"
		cfg.Transport.RedisAddr = redisAddr
	}
	if relayURL != "" {
		cfg.Transport.Kind = "relay"
		cfg.Transport.RelayURL = relayURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openSession connects to the configured session over the configured
// transport. The caller must Close the returned session.
func openSession(ctx context.Context) (*session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var tr transport.Transport
	switch cfg.Transport.Kind {
	case "redis":
		rt, err := transport.NewRedis(&redis.Options{Addr: cfg.Transport.RedisAddr}, cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis transport: %w", err)
		}
		if err := rt.Ping(ctx); err != nil {
			rt.Close()
			return nil, printer.Error(
				"Redis connection failed",
				fmt.Sprintf("Could not reach Redis at %s: %v", cfg.Transport.RedisAddr, err),
				[]string{
					"Check that Redis is running and reachable.",
					"Or use a relay instead:\n  huddle --relay ws://host:8080/ws ...",
				},
			)
		}
		tr = rt
	case "relay":
		rt, err := transport.NewRelay(ctx, cfg.Transport.RelayURL, cfg.Session, cfg.Nickname)
		if err != nil {
			return nil, printer.Error(
				"relay connection failed",
				fmt.Sprintf("Could not connect to relay at %s: %v", cfg.Transport.RelayURL, err),
				[]string{"Start a relay first:\n  huddle relay --addr :8080"},
			)
		}
		tr = rt
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Transport.Kind)
	}

	s, err := session.New(ctx, cfg, tr)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	return s, nil
}
