package carrier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-scraper/internal/apperr"
	"github.com/sells-group/carrier-scraper/internal/model"
)

func TestLoad_Builtins(t *testing.T) {
	t.Setenv("GTL_USERNAME", "agent7")
	t.Setenv("GTL_PASSWORD", "s3cret")

	r, err := Load("")
	require.NoError(t, err)

	c, err := r.Get("gtl")
	require.NoError(t, err)
	assert.Equal(t, "GTL", c.Name)
	assert.Equal(t, "agent7", c.Config.Username)
	assert.Equal(t, "s3cret", c.Config.Password)
	assert.NoError(t, c.Config.Validate())

	names := make([]string, 0)
	for _, c := range r.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"AETNA", "GTL", "SBLI"}, names)
}

func TestGet_Unknown(t *testing.T) {
	r := NewRegistry(Builtins()...)
	_, err := r.Get("metlife")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestLoad_FileOverlay(t *testing.T) {
	t.Setenv("ACME_PASS", "pw-from-env")
	path := filepath.Join(t.TempDir(), "carriers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
carriers:
  - name: gtl
    config:
      max_pages: 3
      next_page_selector: "li.next > a"
    categories:
      approved:
        priority: high
      Policy_Issued:
        priority: low
        action_required: true
  - name: acme
    config:
      login_url: https://acme.example.com/login
      portal_url: https://acme.example.com/policies
      username: broker
      password: ${ACME_PASS}
      username_selector: "#u"
      password_selector: "#p"
      login_button_selector: "#go"
      policy_table_selector: table
      policy_row_selector: tr
      login_mode: automatic
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	gtl, err := r.Get("GTL")
	require.NoError(t, err)
	assert.Equal(t, 3, gtl.Config.MaxPages)
	assert.Equal(t, "li.next > a", gtl.Config.NextPageSelector)
	assert.Equal(t, "table.policy-list", gtl.Config.PolicyTableSelector, "unlisted keys keep built-in values")
	assert.Equal(t, PriorityHigh, r.Priority("GTL", "approved"))
	assert.Equal(t, PriorityHigh, r.Priority("GTL", "declined"))
	assert.True(t, r.ActionRequired("GTL", "policy_issued"), "file category keys are case-insensitive")
	assert.Equal(t, PriorityLow, r.Priority("GTL", "policy_issued"))

	acme, err := r.Get("Acme")
	require.NoError(t, err)
	assert.Equal(t, "ACME", acme.Config.Carrier)
	assert.Equal(t, "pw-from-env", acme.Config.Password)
	assert.Equal(t, model.LoginAutomatic, acme.Config.Mode())
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("carriers:\n  - config: {}\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestPriority(t *testing.T) {
	r := NewRegistry(Builtins()...)
	assert.Equal(t, PriorityHigh, r.Priority("gtl", "Pending_Requirements"))
	assert.True(t, r.ActionRequired("GTL", "pending_requirements"))
	assert.Equal(t, PriorityLow, r.Priority("GTL", "unknown_category"))
	assert.Equal(t, PriorityLow, r.Priority("nobody", "approved"))
	assert.False(t, r.ActionRequired("nobody", "approved"))
}

func TestList_RedactsPasswords(t *testing.T) {
	r := NewRegistry(Carrier{Name: "x", Config: model.ScraperConfig{Password: "pw"}})
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "********", list[0].Config.Password)
	assert.Equal(t, "X", list[0].Config.Carrier)
}
