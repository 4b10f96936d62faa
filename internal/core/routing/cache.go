package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/core/retrieval"
)

// CachedClassifier memoizes classifications by normalized question text.
// Cache failures fall through to the wrapped classifier.
type CachedClassifier struct {
	next   ports.IntentClassifier
	cache  ports.IntentCache
	logger *slog.Logger
}

func NewCachedClassifier(next ports.IntentClassifier, cache ports.IntentCache, logger *slog.Logger) *CachedClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClassifier{next: next, cache: cache, logger: logger}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (domain.Intent, error) {
	key := IntentCacheKey(text)
	if c.cache != nil {
		intent, ok, err := c.cache.GetIntent(ctx, key)
		if err != nil {
			c.logger.Warn("intent_cache_get_failed", "error", err)
		} else if ok {
			return intent, nil
		}
	}

	intent, err := c.next.Classify(ctx, text)
	if err != nil {
		return domain.Intent{}, err
	}
	if c.cache != nil {
		if err := c.cache.SetIntent(ctx, key, intent); err != nil {
			c.logger.Warn("intent_cache_set_failed", "error", err)
		}
	}
	return intent, nil
}

// IntentCacheKey hashes the lowercased question terms, so punctuation and
// spacing variants share one entry.
func IntentCacheKey(text string) string {
	normalized := strings.Join(retrieval.SplitAlphaNumLower(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
