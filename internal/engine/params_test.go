package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brogergvhs/mangarule/internal/template"
)

func TestBindTarget(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		target  string
		wantURL string
		want    template.Map
	}{
		{
			name:    "id substituted into entry url",
			rule:    `{"domains":["x.test"],"entry":{"url":"https://x.test/manga/{id}/"},"extract":[{"name":"t","selector":"h1"}]}`,
			target:  "solo-leveling",
			wantURL: "https://x.test/manga/solo-leveling/",
			want:    template.Map{"id": "solo-leveling", "url": "https://x.test/manga/solo-leveling/"},
		},
		{
			name:    "url matched against entry template",
			rule:    `{"domains":["x.test"],"entry":{"url":"https://x.test/manga/{id}/"},"extract":[{"name":"t","selector":"h1"}]}`,
			target:  "https://x.test/manga/solo-leveling/chapter-1?offset=20",
			wantURL: "https://x.test/manga/solo-leveling/chapter-1",
			want: template.Map{
				"id":     "solo-leveling",
				"offset": "20",
				"url":    "https://x.test/manga/solo-leveling/chapter-1",
			},
		},
		{
			name:    "entry regex groups override",
			rule:    `{"domains":["x.test"],"entry":{"url":"https://x.test/title/{id}","regex":"title/(?P<id>[0-9a-f-]+)/(?P<slug>[a-z-]+)"},"extract":[{"name":"t","selector":"h1"}]}`,
			target:  "https://x.test/title/ab-12/some-name",
			wantURL: "https://x.test/title/ab-12/some-name",
			want: template.Map{
				"id":   "ab-12",
				"slug": "some-name",
				"url":  "https://x.test/title/ab-12/some-name",
			},
		},
		{
			name:    "id defaults to url",
			rule:    `{"domains":["x.test"],"entry":{"url":"https://x.test/latest"},"extract":[{"name":"t","selector":"h1"}]}`,
			target:  "https://x.test/other",
			wantURL: "https://x.test/other",
			want:    template.Map{"id": "https://x.test/other", "url": "https://x.test/other"},
		},
		{
			name:    "no target uses entry url",
			rule:    `{"domains":["x.test"],"entry":{"url":"https://x.test/latest"},"extract":[{"name":"t","selector":"h1"}]}`,
			wantURL: "https://x.test/latest",
			want:    template.Map{"id": "https://x.test/latest", "url": "https://x.test/latest"},
		},
		{
			name:   "no target and no entry",
			rule:   `{"domains":["x.test"],"strategy":"api","api":{"steps":[{"id":"s","request":{"url":"https://api.x.test"}}]},"extract":[{"name":"t","type":"json","path":"a"}]}`,
			target: "",
			want:   template.Map{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := template.Map{}
			u, unbound := bindTarget(mustParse(t, tt.rule), tt.target, vars)
			assert.Empty(t, unbound)
			assert.Equal(t, tt.wantURL, u)
			assert.Equal(t, tt.want, vars)
		})
	}
}

func TestBindTargetUnbound(t *testing.T) {
	r := mustParse(t, `{"domains":["x.test"],"entry":{"url":"https://x.test/{lang}/manga/{id}"},"extract":[{"name":"t","selector":"h1"}]}`)
	vars := template.Map{}
	u, unbound := bindTarget(r, "42", vars)
	assert.Equal(t, "https://x.test//manga/42", u)
	assert.Equal(t, []string{"lang"}, unbound)
}

func TestMatchTemplate(t *testing.T) {
	assert.Equal(t, map[string]string{"lang": "en", "id": "7"},
		matchTemplate("https://x.test/{lang}/m/{id}", "https://x.test/en/m/7/"))
	assert.Nil(t, matchTemplate("https://x.test/m/{id}", "https://y.test/m/7"))
	assert.Nil(t, matchTemplate("https://x.test/latest", "https://x.test/latest"))
}
