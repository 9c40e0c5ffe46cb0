// Package schematest provides a small schema shared by tests of packages that
// resolve settings.
package schematest

import (
	"testing"

	"setman/internal/schema"
)

// Document declares SITE_TITLE, MAINTENANCE and two apps, blog and shop,
// which both declare POSTS_PER_PAGE with different defaults.
const Document = `
settings:
  - name: SITE_TITLE
    type: string
    default: My Site
  - name: MAINTENANCE
    type: bool
    default: false
  - name: DEBUG
    type: bool
    default: false
apps:
  - name: blog
    settings:
      - name: POSTS_PER_PAGE
        type: int
        default: 10
        min_value: 1
        max_value: 100
      - name: COMMENTS
        type: bool
        default: true
  - name: shop
    settings:
      - name: POSTS_PER_PAGE
        type: int
        default: 5
`

// New parses Document, failing the test on error.
func New(t testing.TB) *schema.Schema {
	t.Helper()
	s, err := schema.Parse("settings.yaml", []byte(Document), nil)
	if err != nil {
		t.Fatalf("parse test schema: %v", err)
	}
	return s
}
