// Package config handles configuration loading for awaki-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, duration parsing and defaults. Only the advisory API key is
// required; everything else has a working default or disables the feature.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	backends:
//	  advisory:
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Durations
//
// Timeouts use Go's time.ParseDuration syntax ("20s", "5m", "24h") and must be
// positive.
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//	  public_url: "https://awaki.example.org"  # for Twilio signature checks
//
//	database:
//	  path: "./awaki.db"
//
//	auth:
//	  jwt_secret: "${AWAKI_JWT_SECRET}"     # operator API; disabled when empty
//	  webhook_token: "${AWAKI_WEBHOOK_TOKEN}"
//	  twilio_auth_token: "${TWILIO_AUTH_TOKEN}"
//
//	backends:
//	  advisory:
//	    api_key: "${ANTHROPIC_API_KEY}"
//	    timeout: "20s"
//	  vision:
//	    model_url: "https://api-inference.huggingface.co/models/..."
//	    maize_model_url: "https://api-inference.huggingface.co/models/..."
//	    api_token: "${HF_API_TOKEN}"
//	    confidence_floor: 0.4
//	    timeout: "12s"
//	  weather:
//	    api_key: "${OPENWEATHER_API_KEY}"
//	    timeout: "5s"
//
//	conversation:
//	  window_size: 10
//	  message_limit: 1600
//	  replay_ttl: "24h"
//	  replay_max_size: 10000
//
//	intent:
//	  lexicon_path: ""        # built-in English and Swahili lexicon
//	  languages: ["en", "sw"]
//
//	outbound:
//	  reply_url: ""           # push replies here; empty returns them inline
//
//	logging:
//	  level: "info"           # debug, info, warn, error
//	  format: "text"          # text or json
//
// Each backend retries a transient failure once; set no_retry to disable.
package config
