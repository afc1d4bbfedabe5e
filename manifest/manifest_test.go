package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const githubManifest = `{
  "name": "github",
  "title": "GitHub",
  "author": "octo",
  "commands": [
    {"name": "my-repos", "title": "My Repositories", "mode": "view"},
    {"name": "create-issue", "title": "Create Issue", "mode": "view",
     "entrypoint": "build/issue.js",
     "arguments": [{"name": "title", "type": "text", "required": true}],
     "preferences": [{"name": "repo", "type": "textfield", "default": "cli/cli"}]}
  ],
  "preferences": [
    {"name": "token", "type": "password", "required": true},
    {"name": "repo", "type": "textfield", "default": "octo/hello"},
    {"name": "archived", "type": "checkbox", "default": false}
  ]
}`

// TEST420: Parse reads commands, arguments and preferences
func Test420_parse_manifest(t *testing.T) {
	m, err := Parse([]byte(githubManifest))
	require.NoError(t, err)

	assert.Equal(t, "github", m.Name)
	require.Len(t, m.Commands, 2)

	repos, ok := m.Command("my-repos")
	require.True(t, ok)
	assert.Equal(t, ModeView, repos.Mode)
	assert.Equal(t, "dist/my-repos.js", repos.EntrypointFor())

	issue, ok := m.Command("create-issue")
	require.True(t, ok)
	assert.Equal(t, "build/issue.js", issue.EntrypointFor())
	require.Len(t, issue.Arguments, 1)
	assert.True(t, issue.Arguments[0].Required)

	_, ok = m.Command("nope")
	assert.False(t, ok)
}

// TEST421: Defaults merges extension and command preference defaults
func Test421_preference_defaults(t *testing.T) {
	m, err := Parse([]byte(githubManifest))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"repo": "octo/hello", "archived": "false"}, m.Defaults("my-repos"))
	assert.Equal(t, map[string]string{"repo": "cli/cli", "archived": "false"}, m.Defaults("create-issue"))
}

// TEST422: Parse rejects manifests that violate the schema
func Test422_invalid_manifests(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"missing commands": `{"name": "x", "title": "X"}`,
		"bad mode":         `{"name": "x", "title": "X", "commands": [{"name": "a", "title": "A", "mode": "menu-bar"}]}`,
		"bad name":         `{"name": "Has Spaces", "title": "X", "commands": [{"name": "a", "title": "A", "mode": "view"}]}`,
		"duplicate command": `{"name": "x", "title": "X", "commands": [
			{"name": "a", "title": "A", "mode": "view"},
			{"name": "a", "title": "B", "mode": "no-view"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

// TEST423: ValidationError lists every schema violation
func Test423_validation_error_lists_every_violation(t *testing.T) {
	err := Validate([]byte(`{"name": "x", "commands": [{"name": "a", "mode": "view"}]}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Details), 2)
	assert.Contains(t, err.Error(), "title")
}
