package notify

import (
	"net/http"

	"go.uber.org/zap"

	"sipengine/internal/config"
)

// FromConfig always logs, and adds the webhook and platform sinks that are configured.
// The platform client is returned separately (nil when unset) for request auditing.
func FromConfig(cfg config.NotifyConfig, logger *zap.Logger) (Notifier, *Platform) {
	client := &http.Client{Timeout: cfg.Timeout}
	out := Multi{Log{Logger: logger}}
	if cfg.WebhookURL != "" {
		out = append(out, Webhook{URL: cfg.WebhookURL, HTTP: client})
	}
	var platform *Platform
	if cfg.PlatformBaseURL != "" && cfg.PlatformAPIKey != "" {
		platform = &Platform{BaseURL: cfg.PlatformBaseURL, APIKey: cfg.PlatformAPIKey, HTTP: client}
		out = append(out, platform)
	}
	return out, platform
}
