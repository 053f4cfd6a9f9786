package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/mcpgate/pkg/registry"
)

// newTestState builds a state over the canonical test hierarchy:
//
//	issues (root): create_issue, close_issue
//	  advanced: transfer_issue
//	search (root): search_code
//	(ungrouped): get_me
func newTestState(t *testing.T, opts Options) *State {
	t.Helper()

	reg, err := registry.New(
		[]registry.Descriptor{
			{Name: "create_issue", Group: "issues"},
			{Name: "close_issue", Group: "issues"},
			{Name: "transfer_issue", Group: "advanced"},
			{Name: "search_code", Group: "search"},
			{Name: "get_me"},
		},
		[]registry.Group{
			{Name: "issues", Description: "Issue management"},
			{Name: "advanced", Description: "Advanced issue tools", Parent: "issues"},
			{Name: "search", Description: "Search tools"},
		},
	)
	require.NoError(t, err)

	s, err := New(reg, opts)
	require.NoError(t, err)

	return s
}

func TestInitialRootGroupsEnabled(t *testing.T) {
	s := newTestState(t, Options{})

	// No Initial flags: every root group starts enabled.
	assert.Equal(t, []string{"issues", "search"}, s.Enabled())
	assert.Equal(t, []string{"close_issue", "create_issue", "get_me", "search_code"}, s.Tools())
	assert.Equal(t, []string{"advanced"}, s.AvailableGroups())
}

func TestInitialFlaggedGroups(t *testing.T) {
	reg, err := registry.New(
		[]registry.Descriptor{{Name: "a_op", Group: "a"}, {Name: "b_op", Group: "b"}},
		[]registry.Group{
			{Name: "a", Initial: true},
			{Name: "b"},
		},
	)
	require.NoError(t, err)

	s, err := New(reg, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, s.Enabled())
	assert.Equal(t, []string{"a_op"}, s.Tools())
}

func TestInitialChildWithoutParentFails(t *testing.T) {
	reg, err := registry.New(nil, []registry.Group{
		{Name: "parent"},
		{Name: "child", Parent: "parent", Initial: true},
	})
	require.NoError(t, err)

	_, err = New(reg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parent "parent" not enabled`)
}

func TestInitialChildWithFlaggedParent(t *testing.T) {
	// Declaration order must not matter: the child appears before its
	// parent and both are flagged.
	reg, err := registry.New(nil, []registry.Group{
		{Name: "child", Parent: "parent", Initial: true},
		{Name: "parent", Initial: true},
	})
	require.NoError(t, err)

	s, err := New(reg, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"child", "parent"}, s.Enabled())
}

func TestEnableChild(t *testing.T) {
	s := newTestState(t, Options{})

	res := s.Enable([]string{"advanced"})
	assert.Equal(t, []string{"advanced"}, res.Changed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"advanced", "issues", "search"}, res.Enabled)
	assert.Contains(t, res.Tools, "transfer_issue")
	assert.Empty(t, res.AvailableGroups)
}

func TestEnableParentNotEnabled(t *testing.T) {
	s := newTestState(t, Options{})
	s.Disable([]string{"issues"})

	res := s.Enable([]string{"advanced"})
	assert.Empty(t, res.Changed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], `enable parent "issues" first`)
	assert.NotContains(t, res.Enabled, "advanced")
}

func TestEnableBatchPartialFailure(t *testing.T) {
	s := newTestState(t, Options{})
	s.Disable([]string{"issues", "search"})

	res := s.Enable([]string{"issues", "bogus"})
	assert.Equal(t, []string{"issues"}, res.Changed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unknown group: bogus")
	assert.Equal(t, []string{"issues"}, res.Enabled)
}

func TestEnableAlreadyEnabled(t *testing.T) {
	s := newTestState(t, Options{})

	res := s.Enable([]string{"issues"})
	assert.Empty(t, res.Changed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "already enabled: issues")
}

func TestEnableMaxTools(t *testing.T) {
	// Ceiling of 4: get_me (ungrouped) + issues' two ops leaves room for
	// one more operation, so enabling search fills the ceiling and the
	// later "advanced" entry is rejected without partial mutation.
	s := newTestState(t, Options{MaxTools: 4})
	s.Disable([]string{"search"})

	res := s.Enable([]string{"search", "advanced"})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "max_tools=4")
	assert.Contains(t, res.Errors[0], `"advanced"`)
	assert.Equal(t, []string{"search"}, res.Changed)
	assert.NotContains(t, res.Enabled, "advanced")
}

func TestEnableMaxToolsCountsMetaTools(t *testing.T) {
	s := newTestState(t, Options{MaxTools: 5, CountMetaTools: true, MetaTools: 2})
	s.Disable([]string{"search"})

	// 3 domain tools available + 2 meta-tools = 5; search_code would be 6.
	res := s.Enable([]string{"search"})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "max_tools=5")
	assert.Empty(t, res.Changed)
}

func TestDisableCascades(t *testing.T) {
	s := newTestState(t, Options{})
	s.Enable([]string{"advanced"})

	res := s.Disable([]string{"issues"})
	assert.Equal(t, []string{"advanced", "issues"}, res.Changed)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"search"}, res.Enabled)
	assert.NotContains(t, res.Tools, "transfer_issue")
	assert.NotContains(t, res.Tools, "create_issue")
}

func TestDisableErrors(t *testing.T) {
	s := newTestState(t, Options{})
	s.Disable([]string{"advanced"}) // never enabled

	res := s.Disable([]string{"advanced", "ghost"})
	assert.Empty(t, res.Changed)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "group not enabled: advanced")
	assert.Contains(t, res.Errors[1], "unknown group: ghost")
}

func TestCheck(t *testing.T) {
	s := newTestState(t, Options{})

	// Scenario: issues enabled, advanced disabled.
	err := s.Check("transfer_issue")
	require.ErrorIs(t, err, ErrGroupDisabled)
	assert.Contains(t, err.Error(), `"advanced"`)

	assert.NoError(t, s.Check("create_issue"))
	assert.NoError(t, s.Check("get_me"))         // ungrouped
	assert.NoError(t, s.Check("never_declared")) // unknown to the registry
}

func TestEnableThenCheck(t *testing.T) {
	s := newTestState(t, Options{})

	res := s.Enable([]string{"advanced"})
	require.Empty(t, res.Errors)
	assert.NoError(t, s.Check("transfer_issue"))
}

func TestFreshSessionScenario(t *testing.T) {
	reg, err := registry.New(
		[]registry.Descriptor{
			{Name: "create_issue", Group: "issues"},
			{Name: "close_issue", Group: "issues"},
		},
		[]registry.Group{
			{Name: "issues"},
			{Name: "labels", Parent: "issues"},
		},
	)
	require.NoError(t, err)

	s, err := New(reg, Options{})
	require.NoError(t, err)
	s.Disable([]string{"issues"})

	res := s.Enable([]string{"issues"})
	assert.Equal(t, []string{"issues"}, res.Enabled)
	assert.Equal(t, []string{"close_issue", "create_issue"}, res.Tools)
	assert.Equal(t, []string{"labels"}, res.AvailableGroups)
}
