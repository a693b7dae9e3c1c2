package classify

import (
	"fmt"
	"time"

	"teller/internal/config"
	"teller/internal/types"
)

// FromConfig builds the configured classifier. A gemini provider without an
// API key degrades to the keyword baseline rather than failing startup.
func FromConfig(cfg config.ClassifierConfig, timeout time.Duration) (types.IntentClassifier, error) {
	switch cfg.Provider {
	case "", "keyword":
		return NewKeyword(), nil
	case "gemini":
		if cfg.APIKey == "" {
			return NewKeyword(), nil
		}
		return NewGemini(cfg.APIKey, cfg.Model, timeout)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}
