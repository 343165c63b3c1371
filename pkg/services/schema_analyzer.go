package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// Entity types assigned by the analyzer.
const (
	EntityUnknown       = "unknown"
	EntityAudit         = "audit"
	EntityConfiguration = "configuration"
	EntityRelationship  = "relationship"
)

// observationDelta is the confidence added per analyzer sighting.
const observationDelta = 0.1

// entityKeywords maps entity types to table-name keywords, in match order.
var entityKeywords = []struct {
	entityType string
	keywords   []string
}{
	{"person", []string{"user", "person", "customer", "client", "patient", "student", "employee", "staff", "member", "contact", "individual"}},
	{"transaction", []string{"order", "transaction", "sale", "purchase", "payment", "invoice", "receipt", "billing", "transfer"}},
	{"item", []string{"product", "item", "article", "goods", "material", "asset", "resource", "inventory", "stock"}},
	{"location", []string{"location", "address", "place", "site", "branch", "store", "warehouse", "facility", "region", "area"}},
	{"time_event", []string{"event", "appointment", "schedule", "booking", "reservation", "session", "meeting", "activity"}},
	{"document", []string{"document", "file", "report", "record", "note", "attachment", "message", "email", "letter"}},
	{"category", []string{"category", "type", "class", "group", "tag", "label", "classification", "segment"}},
	{"measurement", []string{"metric", "measure", "statistic", "analytics", "performance", "score", "rating", "evaluation"}},
	{EntityAudit, []string{"log", "audit", "history"}},
	{EntityConfiguration, []string{"config", "setting", "parameter"}},
	{EntityRelationship, []string{"map", "mapping", "relation", "link"}},
}

// domainIndicators are checked in order; the first domain with a matching
// table name wins.
var domainIndicators = []struct {
	domain string
	terms  []string
}{
	{"healthcare", []string{"patient", "diagnosis", "medical", "health", "treatment"}},
	{"education", []string{"student", "course", "grade", "enrollment", "teacher"}},
	{"retail", []string{"product", "order", "cart", "customer", "payment"}},
	{"finance", []string{"account", "transaction", "balance", "ledger", "invoice"}},
	{"manufacturing", []string{"production", "inventory", "warehouse", "supplier", "material"}},
	{"human_resources", []string{"employee", "payroll", "attendance", "leave", "department"}},
}

var tablePrefixes = []string{"tbl_", "tb_", "t_"}

// SchemaAnalyzerService classifies the tables of a managed schema and feeds
// the results into the registry, the sync tracker and the pattern store.
type SchemaAnalyzerService interface {
	Analyze(ctx context.Context, schemaName string) (*models.SchemaAnalysis, error)
}

type schemaAnalyzerService struct {
	registry SchemaRegistryService
	tracker  SyncTrackerService
	patterns PatternService
	catalog  CatalogReader
	logger   *zap.Logger
}

// NewSchemaAnalyzerService creates a SchemaAnalyzerService.
func NewSchemaAnalyzerService(
	registry SchemaRegistryService,
	tracker SyncTrackerService,
	patterns PatternService,
	catalog CatalogReader,
	logger *zap.Logger,
) SchemaAnalyzerService {
	return &schemaAnalyzerService{
		registry: registry,
		tracker:  tracker,
		patterns: patterns,
		catalog:  catalog,
		logger:   logger.Named("schema-analyzer"),
	}
}

var _ SchemaAnalyzerService = (*schemaAnalyzerService)(nil)

func (s *schemaAnalyzerService) Analyze(ctx context.Context, schemaName string) (*models.SchemaAnalysis, error) {
	schema, err := s.registry.Get(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	tables, err := s.catalog.ListTables(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schemaName, err)
	}

	analysis := &models.SchemaAnalysis{
		SchemaName:  schemaName,
		Terminology: map[string][]string{},
		AnalyzedAt:  time.Now(),
	}
	terms := map[string]map[string]bool{}

	for _, t := range tables {
		cols, err := s.catalog.Columns(ctx, schemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s.%s: %w", schemaName, t.TableName, err)
		}
		fks, err := s.catalog.ForeignKeys(ctx, schemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to read foreign keys of %s.%s: %w", schemaName, t.TableName, err)
		}

		ta := analyzeTable(t, cols, fks)
		analysis.Tables = append(analysis.Tables, ta)
		analysis.TotalRows += t.EstimatedRows

		for _, fk := range fks {
			if fk.RefSchema != schemaName {
				continue
			}
			analysis.Relationships = append(analysis.Relationships, models.Relationship{
				FromTable:  t.TableName,
				FromColumn: fk.Column,
				ToTable:    fk.RefTable,
				ToColumn:   fk.RefColumn,
			})
		}
		collectTerminology(cols, terms)

		if _, err := s.tracker.RegisterTable(ctx, schemaName, t.TableName); err != nil {
			return nil, err
		}
	}

	analysis.BusinessDomain = detectBusinessDomain(analysis.Tables)
	for group, set := range terms {
		analysis.Terminology[group] = sortedKeys(set)
	}

	if err := s.persist(ctx, schema, analysis); err != nil {
		return nil, err
	}

	s.logger.Info("Schema analyzed",
		zap.String("schema", schemaName),
		zap.String("business_domain", analysis.BusinessDomain),
		zap.Int("tables", len(analysis.Tables)),
		zap.Int("relationships", len(analysis.Relationships)))
	return analysis, nil
}

func (s *schemaAnalyzerService) persist(ctx context.Context, schema *models.ManagedSchema, analysis *models.SchemaAnalysis) error {
	if schema.BusinessDomain == "" && analysis.BusinessDomain != "" {
		if _, err := s.registry.Register(ctx, &models.RegisterSchemaRequest{
			SchemaName:     schema.SchemaName,
			BusinessDomain: analysis.BusinessDomain,
		}); err != nil {
			return err
		}
	}

	entityTypes := make(map[string]any, len(analysis.Tables))
	for _, t := range analysis.Tables {
		entityTypes[t.TableName] = t.EntityType
	}
	learned := map[string]any{
		"business_domain": analysis.BusinessDomain,
		"entity_types":    entityTypes,
		"terminology":     analysis.Terminology,
		"analyzed_at":     analysis.AnalyzedAt.UTC().Format(time.RFC3339),
	}
	if err := s.registry.MergeLearnedPatterns(ctx, schema.SchemaName, learned); err != nil {
		return err
	}

	for _, t := range analysis.Tables {
		if t.EntityType == EntityUnknown {
			continue
		}
		if _, err := s.patterns.RecordObservation(ctx, &models.PatternObservation{
			PatternType: models.PatternTypeEntity,
			SchemaScope: schema.SchemaName,
			TableScope:  t.TableName,
			Payload: map[string]any{
				"entity_type": t.EntityType,
				"entity_name": t.EntityName,
			},
			ConfidenceDelta: observationDelta,
		}); err != nil {
			return err
		}
	}

	for _, r := range analysis.Relationships {
		if _, err := s.patterns.RecordObservation(ctx, &models.PatternObservation{
			PatternType: models.PatternTypeRelationship,
			SchemaScope: schema.SchemaName,
			TableScope:  r.FromTable,
			Payload: map[string]any{
				"from_column": r.FromColumn,
				"to_table":    r.ToTable,
				"to_column":   r.ToColumn,
			},
			ConfidenceDelta: observationDelta,
		}); err != nil {
			return err
		}
	}
	return nil
}

func analyzeTable(t models.CatalogTable, cols []models.CatalogColumn, fks []models.ForeignKey) *models.TableAnalysis {
	ta := &models.TableAnalysis{
		TableName:     t.TableName,
		EntityName:    toEntityName(t.TableName),
		EntityType:    detectEntityType(t.TableName),
		EstimatedRows: t.EstimatedRows,
		ForeignKeys:   fks,
	}

	for _, c := range cols {
		name := strings.ToLower(c.ColumnName)
		if c.IsPrimaryKey {
			ta.PrimaryKey = append(ta.PrimaryKey, c.ColumnName)
		}
		switch {
		case isTextType(c.DataType):
			ta.SearchableColumns = append(ta.SearchableColumns, c.ColumnName)
			if containsAny(name, "name", "title", "description") {
				ta.DisplayColumns = append(ta.DisplayColumns, c.ColumnName)
			}
		case isNumericType(c.DataType):
			if containsAny(name, "code", "number", "_no") {
				ta.SearchableColumns = append(ta.SearchableColumns, c.ColumnName)
			}
			if containsAny(name, "total", "amount", "price", "quantity") {
				ta.DisplayColumns = append(ta.DisplayColumns, c.ColumnName)
			}
		}
	}
	if len(ta.DisplayColumns) > 5 {
		ta.DisplayColumns = ta.DisplayColumns[:5]
	}
	return ta
}

// toEntityName converts a table name to an entity name.
// Examples: "orders" -> "Order", "tbl_categories" -> "Category"
func toEntityName(tableName string) string {
	name := cleanTableName(tableName)
	name = inflection.Singular(name)
	if len(name) > 0 {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return name
}

func cleanTableName(tableName string) string {
	name := strings.ToLower(tableName)
	for _, p := range tablePrefixes {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	for _, suffix := range []string{"_table", "_tbl", "_tb"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

// detectEntityType matches the singularized words of a table name against
// entityKeywords.
func detectEntityType(tableName string) string {
	words := strings.Split(cleanTableName(tableName), "_")
	for i, w := range words {
		words[i] = inflection.Singular(w)
	}

	for _, ek := range entityKeywords {
		for _, kw := range ek.keywords {
			for _, w := range words {
				if w == kw || (len(kw) > 3 && strings.Contains(w, kw)) {
					return ek.entityType
				}
			}
		}
	}
	return EntityUnknown
}

// detectBusinessDomain picks the first domain whose indicator terms appear
// in a table name, falling back to the most common entity type.
func detectBusinessDomain(tables []*models.TableAnalysis) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = strings.ToLower(t.TableName)
	}
	joined := strings.Join(names, " ")

	for _, d := range domainIndicators {
		for _, term := range d.terms {
			if strings.Contains(joined, term) {
				return d.domain
			}
		}
	}

	counts := map[string]int{}
	for _, t := range tables {
		if t.EntityType != EntityUnknown {
			counts[t.EntityType]++
		}
	}
	best, bestCount := "", 0
	for _, et := range sortedKeys(boolSet(counts)) {
		if counts[et] > bestCount {
			best, bestCount = et, counts[et]
		}
	}
	if best == "" {
		return "general"
	}
	return best + "_management"
}

// collectTerminology groups column-name words into coarse categories.
func collectTerminology(cols []models.CatalogColumn, terms map[string]map[string]bool) {
	for _, c := range cols {
		for _, part := range strings.Split(strings.ToLower(c.ColumnName), "_") {
			if len(part) <= 2 || isDigits(part) {
				continue
			}
			group := "general"
			switch {
			case containsAny(part, "price", "cost", "amount"):
				group = "monetary"
			case containsAny(part, "date", "time"):
				group = "temporal"
			case containsAny(part, "name", "title"):
				group = "identifier"
			case containsAny(part, "desc", "note"):
				group = "description"
			}
			if terms[group] == nil {
				terms[group] = map[string]bool{}
			}
			terms[group][part] = true
		}
	}
}

func isTextType(dataType string) bool {
	t := strings.ToLower(dataType)
	return strings.HasPrefix(t, "text") || strings.HasPrefix(t, "character") || strings.HasPrefix(t, "varchar") || t == "citext"
}

func isNumericType(dataType string) bool {
	t := strings.ToLower(dataType)
	return containsAny(t, "int", "numeric", "decimal", "real", "double")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func boolSet(m map[string]int) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
