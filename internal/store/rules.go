package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brogergvhs/mangarule/internal/rule"
)

// RuleKind selects which of a site's two rules applies.
type RuleKind string

const (
	RuleManga   RuleKind = "manga"
	RuleChapter RuleKind = "chapter"
)

// ScrapingRule is a site entry in the repository: one rule for manga pages
// and one for chapter pages, both stored as JSON documents.
type ScrapingRule struct {
	ID              uint   `gorm:"primaryKey"`
	SiteKey         string `gorm:"uniqueIndex;not null"`
	Name            string
	DomainsJSON     string
	MangaRuleJSON   string
	ChapterRuleJSON string
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewScrapingRule builds a repository entry. Domains are the union of both
// documents' domains.
func NewScrapingRule(siteKey, name string, mangaDoc, chapterDoc *rule.Document) (*ScrapingRule, error) {
	if strings.TrimSpace(siteKey) == "" {
		return nil, errors.New("site key is required")
	}
	if mangaDoc == nil && chapterDoc == nil {
		return nil, errors.New("at least one rule document is required")
	}

	sr := &ScrapingRule{SiteKey: siteKey, Name: name, Enabled: true}
	seen := map[string]struct{}{}
	var domains []string
	for _, d := range []*rule.Document{mangaDoc, chapterDoc} {
		if d == nil {
			continue
		}
		for _, dom := range d.Domains {
			if _, ok := seen[dom]; !ok {
				seen[dom] = struct{}{}
				domains = append(domains, dom)
			}
		}
	}
	sort.Strings(domains)

	b, err := json.Marshal(domains)
	if err != nil {
		return nil, err
	}
	sr.DomainsJSON = string(b)

	if mangaDoc != nil {
		if sr.MangaRuleJSON, err = encodeDoc(mangaDoc); err != nil {
			return nil, err
		}
	}
	if chapterDoc != nil {
		if sr.ChapterRuleJSON, err = encodeDoc(chapterDoc); err != nil {
			return nil, err
		}
	}
	return sr, nil
}

func encodeDoc(d *rule.Document) (string, error) {
	b, err := rule.Marshal(*d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (sr *ScrapingRule) Domains() []string {
	var out []string
	_ = json.Unmarshal([]byte(sr.DomainsJSON), &out)
	return out
}

// Rule compiles the stored document of the given kind. ok is false when
// the site has no rule of that kind.
func (sr *ScrapingRule) Rule(kind RuleKind) (r *rule.Rule, ok bool, err error) {
	raw := sr.MangaRuleJSON
	if kind == RuleChapter {
		raw = sr.ChapterRuleJSON
	}
	if strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	r, err = rule.Parse([]byte(raw), rule.FormatJSON)
	if err != nil {
		return nil, true, err
	}
	return r, true, nil
}

func (s *Store) UpsertRule(ctx context.Context, sr *ScrapingRule) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "domains_json", "manga_rule_json", "chapter_rule_json", "enabled", "updated_at",
		}),
	}).Create(sr).Error
	if err != nil {
		return fmt.Errorf("save rule %s: %w", sr.SiteKey, err)
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context) ([]ScrapingRule, error) {
	var out []ScrapingRule
	if err := s.db.WithContext(ctx).Order("site_key").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

func (s *Store) GetRule(ctx context.Context, siteKey string) (*ScrapingRule, error) {
	var sr ScrapingRule
	err := s.db.WithContext(ctx).Where("site_key = ?", siteKey).Take(&sr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("rule %s: %w", siteKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", siteKey, err)
	}
	return &sr, nil
}

func (s *Store) DeleteRule(ctx context.Context, siteKey string) error {
	res := s.db.WithContext(ctx).Where("site_key = ?", siteKey).Delete(&ScrapingRule{})
	if res.Error != nil {
		return fmt.Errorf("delete rule %s: %w", siteKey, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", siteKey, ErrNotFound)
	}
	return nil
}

func (s *Store) SetRuleEnabled(ctx context.Context, siteKey string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&ScrapingRule{}).Where("site_key = ?", siteKey).Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("update rule %s: %w", siteKey, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", siteKey, ErrNotFound)
	}
	return nil
}

// FindRule returns the first enabled rule of the given kind whose domains
// match rawURL.
func (s *Store) FindRule(ctx context.Context, rawURL string, kind RuleKind) (*rule.Rule, error) {
	var rows []ScrapingRule
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("site_key").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find rule: %w", err)
	}

	for i := range rows {
		r, ok, err := rows[i].Rule(kind)
		if err != nil {
			s.log.Sugar().Warnf("skipping rule %s: %v", rows[i].SiteKey, err)
			continue
		}
		if ok && r.Matches(rawURL) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s rule for %s: %w", kind, rawURL, ErrNotFound)
}
