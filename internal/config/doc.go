// Package config handles configuration loading for handoff-bridge.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HANDOFF_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/handoff-bridge/config.yaml
//  3. ~/.config/handoff-bridge/config.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	chatwoot:
//	  api_key: "${CHATWOOT_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chatwoot:
//	  timeout: "15s"
//	rag:
//	  timeout: "60s"
//	auth:
//	  token_ttl: "24h"
//
// # Configuration Sections
//
// Chat channel:
//
//	channel:
//	  kind: telegram            # telegram or matrix
//	  dedupe_ttl: "10m"
//	  telegram:
//	    token: "${TELEGRAM_BOT_TOKEN}"
//	  matrix:
//	    homeserver: "https://matrix.example.org"
//	    user_id: "@support:example.org"
//	    access_token: "${MATRIX_ACCESS_TOKEN}"
//	    allowed_rooms: []
//	    auto_join: true
//
// Support platform. The integration is enabled only when all four of
// base_url, api_key, account_id and inbox_id are set:
//
//	chatwoot:
//	  base_url: "https://chatwoot.example.com"
//	  api_key: "${CHATWOOT_API_KEY}"
//	  account_id: 1
//	  inbox_id: 3
//
// Handoff and routing:
//
//	handoff:
//	  bot_agent_id: 7           # assignee restored on return to bot
//	  transcript_limit: 20
//	  keywords: ["operator", "human"]
//	webhook:
//	  agent_roles: ["agent", "user"]
//	  agent_prefix: "Operator: "
//	  dedupe_message_ids: false
//	continuity:
//	  threshold: 0.6
//	  window: 4
//
// Answer pipeline (gRPC). Without an address a static reply is used:
//
//	rag:
//	  addr: "localhost:50061"
//	  fallback_reply: "Thanks, an operator can help with that."
//
// Serving:
//
//	server:
//	  http_addr: ":8080"
//	tailscale:
//	  enabled: false
//	  hostname: "handoff-bridge"
//	  funnel: true
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//	auth:
//	  jwt_secret: "${HANDOFF_BRIDGE_JWT_SECRET}"   # enables /debug endpoints
//	ledger:
//	  path: "/var/lib/handoff-bridge/ledger.db"
//	logging:
//	  level: info               # debug, info, warn, error
//	  format: text              # text or json
package config
