package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
)

// DefaultQueryType is reported when no query_intent pattern matches.
const DefaultQueryType = "semantic_search"

const (
	defaultTopPatterns = 10
	maxTopPatterns     = 100
	intentRuleLimit    = 200
	intentCacheTTL     = time.Minute
)

// PatternService accumulates learned patterns and applies them.
type PatternService interface {
	RecordObservation(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error)
	// TopPatterns returns the most confident patterns of a type. A schema scope
	// also includes global patterns.
	TopPatterns(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error)
	// InferQueryType classifies search text with the global query_intent
	// patterns. Returns DefaultQueryType when nothing matches.
	InferQueryType(ctx context.Context, text string) (string, error)
}

type intentRule struct {
	intent     string
	keywords   []string
	confidence float64
}

type patternService struct {
	repo   repositories.LearnedPatternRepository
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	rules    []intentRule
	loadedAt time.Time
}

// NewPatternService creates a PatternService.
func NewPatternService(repo repositories.LearnedPatternRepository, logger *zap.Logger) PatternService {
	return &patternService{
		repo:   repo,
		logger: logger.Named("pattern-service"),
		now:    time.Now,
	}
}

var _ PatternService = (*patternService)(nil)

func (s *patternService) RecordObservation(ctx context.Context, obs *models.PatternObservation) (*models.LearnedPattern, error) {
	if obs.PatternType == "" {
		return nil, fmt.Errorf("%w: pattern type is required", apperrors.ErrInvalidArgument)
	}
	if obs.Payload == nil {
		obs.Payload = map[string]any{}
	}

	pattern, err := s.repo.Observe(ctx, obs)
	if err != nil {
		s.logger.Error("Failed to record pattern observation",
			zap.String("pattern_type", obs.PatternType),
			zap.String("schema_scope", obs.SchemaScope),
			zap.Error(err))
		return nil, err
	}

	if obs.PatternType == models.PatternTypeQueryIntent {
		s.invalidateIntents()
	}
	return pattern, nil
}

func (s *patternService) TopPatterns(ctx context.Context, patternType, schemaScope string, limit int) ([]*models.LearnedPattern, error) {
	if limit <= 0 {
		limit = defaultTopPatterns
	}
	if limit > maxTopPatterns {
		limit = maxTopPatterns
	}

	patterns, err := s.repo.Top(ctx, patternType, schemaScope, limit)
	if err != nil {
		s.logger.Error("Failed to get top patterns",
			zap.String("pattern_type", patternType),
			zap.String("schema_scope", schemaScope),
			zap.Error(err))
		return nil, err
	}
	return patterns, nil
}

func (s *patternService) InferQueryType(ctx context.Context, text string) (string, error) {
	rules, err := s.intentRules(ctx)
	if err != nil {
		return DefaultQueryType, err
	}

	padded := " " + strings.Join(embedding.Tokenize(text), " ") + " "

	best := DefaultQueryType
	bestConfidence := -1.0
	bestHits := 0
	for _, rule := range rules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		if rule.confidence > bestConfidence || (rule.confidence == bestConfidence && hits > bestHits) {
			best, bestConfidence, bestHits = rule.intent, rule.confidence, hits
		}
	}
	return best, nil
}

func (s *patternService) intentRules(ctx context.Context) ([]intentRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rules != nil && s.now().Sub(s.loadedAt) < intentCacheTTL {
		return s.rules, nil
	}

	patterns, err := s.repo.Top(ctx, models.PatternTypeQueryIntent, "", intentRuleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load query intent patterns: %w", err)
	}

	rules := make([]intentRule, 0, len(patterns))
	for _, p := range patterns {
		if rule, ok := parseIntentRule(p); ok {
			rules = append(rules, rule)
		}
	}
	s.rules = rules
	s.loadedAt = s.now()
	return rules, nil
}

func (s *patternService) invalidateIntents() {
	s.mu.Lock()
	s.rules = nil
	s.mu.Unlock()
}

// parseIntentRule reads {"intent": "...", "keywords": [...]} payloads.
// Keywords are normalized the same way search text is.
func parseIntentRule(p *models.LearnedPattern) (intentRule, bool) {
	intent, _ := p.Payload["intent"].(string)
	if intent == "" {
		return intentRule{}, false
	}

	raw, _ := p.Payload["keywords"].([]any)
	rule := intentRule{intent: intent, confidence: p.Confidence}
	for _, k := range raw {
		kw, ok := k.(string)
		if !ok {
			continue
		}
		if norm := strings.Join(embedding.Tokenize(kw), " "); norm != "" {
			rule.keywords = append(rule.keywords, norm)
		}
	}
	return rule, len(rule.keywords) > 0
}
