// Package config handles configuration loading for chatwoot-relay.
//
// # Overview
//
// Configuration comes from an optional YAML file plus environment variables.
// When no file exists the relay runs on defaults and the environment alone,
// matching how it is usually deployed next to a Chatwoot instance.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatwoot-relay/relay.yaml
//  3. ~/.config/chatwoot-relay/relay.yaml
//
// A .env file in the working directory is loaded before the config is read.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	chatwoot:
//	  api_token: "${CHATWOOT_API_TOKEN}"
//
// # Environment Overlays
//
// These variables override file values when set:
//
//	CHATWOOT_BASE_URL                  chatwoot.base_url
//	CHATWOOT_ACCOUNT_ID                chatwoot.account_id
//	CHATWOOT_API_TOKEN                 chatwoot.api_token
//	CHATWOOT_WEBHOOK_TOKEN             chatwoot.webhook_token
//	CHATWOOT_MESSAGE_POLL_INTERVAL_MS  stream.message_poll_interval (integer ms)
//	CHATWOOT_LABEL_POLL_INTERVAL_MS    stream.label_poll_interval (integer ms)
//	RELAY_HTTP_ADDR                    server.http_addr
//	RELAY_DB_PATH                      database.path
//	RELAY_STREAM_TOKEN_SECRET          auth.stream_token_secret
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/chatwoot-relay/relay.db"
//
//	chatwoot:
//	  base_url: "https://chat.example.com"
//	  account_id: "1"
//	  request_timeout: "30s"
//
//	stream:
//	  mode: "hub"              # hub, poll
//	  bootstrap_poll: true     # poll until the first webhook arrives (hub mode)
//	  lease: "280s"
//	  drain_grace: "250ms"
//	  ping_interval: "25s"
//	  message_poll_interval: "1500ms"
//	  label_poll_interval: "8s"
//
//	cache:
//	  ttl: "30m"
//	  max_entries: 10000
//
//	auth:
//	  stream_token_secret: "${RELAY_STREAM_TOKEN_SECRET}"  # empty disables stream tokens
//	  stream_token_ttl: "10m"
//
//	ratelimit:
//	  rps: 5      # 0 disables
//	  burst: 10
//
//	email_validation:
//	  url: "https://rapid-email-verifier.fly.dev"
//	  timeout: "10s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax.
package config
