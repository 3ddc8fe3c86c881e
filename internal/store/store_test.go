package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangarule/internal/rule"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "mangarule.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSettings(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeyMangaDirectory)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeyMangaDirectory, "/data/manga"))
	require.NoError(t, s.Set(ctx, KeyMangaDirectory, "/srv/manga"))
	require.NoError(t, s.Set(ctx, "theme", "dark"))

	v, ok, err := s.Get(ctx, KeyMangaDirectory)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/srv/manga", v)

	all, err := s.Settings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, KeyMangaDirectory, all[0].Key)
	assert.Equal(t, "theme", all[1].Key)
}

func testDoc(domain, selector string) *rule.Document {
	return &rule.Document{
		Site:    domain,
		Domains: []string{domain},
		Extract: []rule.FieldRule{{Name: "title", Selector: selector}},
	}
}

func TestRuleRepository(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	sr, err := NewScrapingRule("mangax", "Manga X", testDoc("mangax.test", "h1"), testDoc("cdn.mangax.test", ".reader img"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cdn.mangax.test", "mangax.test"}, sr.Domains())
	require.NoError(t, s.UpsertRule(ctx, sr))

	other, err := NewScrapingRule("other", "Other", testDoc("other.test", "h2"), nil)
	require.NoError(t, err)
	require.NoError(t, s.UpsertRule(ctx, other))

	updated, err := NewScrapingRule("mangax", "Manga X v2", testDoc("mangax.test", "h1.title"), nil)
	require.NoError(t, err)
	require.NoError(t, s.UpsertRule(ctx, updated))

	list, err := s.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "mangax", list[0].SiteKey)
	assert.Equal(t, "Manga X v2", list[0].Name)
	assert.Empty(t, list[0].ChapterRuleJSON)

	r, err := s.FindRule(ctx, "https://www.mangax.test/m/1", RuleManga)
	require.NoError(t, err)
	assert.Equal(t, "mangax.test", r.Site)
	n := r.Tree.Node(r.Tree.Roots[0])
	assert.Equal(t, "h1.title", n.Locator.(rule.CSS).Selector)

	_, err = s.FindRule(ctx, "https://www.mangax.test/m/1", RuleChapter)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetRuleEnabled(ctx, "other", false))
	_, err = s.FindRule(ctx, "https://other.test/x", RuleManga)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetRule(ctx, "other")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, s.DeleteRule(ctx, "other"))
	assert.ErrorIs(t, s.DeleteRule(ctx, "other"), ErrNotFound)
	_, err = s.GetRule(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewScrapingRuleValidation(t *testing.T) {
	_, err := NewScrapingRule("", "x", testDoc("a.test", "h1"), nil)
	assert.Error(t, err)
	_, err = NewScrapingRule("k", "x", nil, nil)
	assert.Error(t, err)
}

func TestStoredRuleWithBrokenDocument(t *testing.T) {
	sr := &ScrapingRule{SiteKey: "bad", MangaRuleJSON: `{"domains":[]}`}
	_, ok, err := sr.Rule(RuleManga)
	assert.True(t, ok)
	var ce *rule.ConfigError
	assert.ErrorAs(t, err, &ce)
}
