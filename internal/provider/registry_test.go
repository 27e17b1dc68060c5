package provider

import (
	"testing"

	"github.com/Mieluoxxx/NoFail-API/internal/balancer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry([]*Descriptor{
		{Name: "Alpha", BaseURL: "https://alpha.test", SupportedModels: []string{"gpt-4", "gpt-4o"}},
		{Name: "Beta", BaseURL: "https://beta.test", DefaultModel: "gpt-4o"},
		{Name: "Gamma", BaseURL: "https://gamma.test", SupportedModels: []string{"llama-3", "gpt-4"}},
		{Name: "Delta", BaseURL: "https://delta.test"},
	}, map[string]string{
		"gpt-4":    "Gamma",
		"mixtral":  "Delta",
		"orphaned": "Nobody",
	})
}

// 编译期检查
var _ balancer.Catalog = (*Registry)(nil)
var _ balancer.Catalog = (*Snapshot)(nil)

func TestRegistry_ListProvidersKeepsCatalogOrder(t *testing.T) {
	r := newTestRegistry()

	var names []string
	for _, p := range r.ListProviders() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma", "Delta"}, names)
}

func TestRegistry_DuplicateNamesIgnored(t *testing.T) {
	r := NewRegistry([]*Descriptor{
		{Name: "Alpha", DefaultModel: "gpt-4"},
		{Name: "Alpha", DefaultModel: "gpt-4o"},
	}, nil)

	require.Len(t, r.ListProviders(), 1)
	p, ok := r.Provider("Alpha")
	require.True(t, ok)
	assert.Equal(t, "gpt-4", p.DefaultModel)
}

func TestRegistry_ResolveDefaultProvider(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4", "Gamma"},   // 配置的默认供应商
		{"gpt-4o", "Alpha"},  // 第一个声明的供应商
		{"llama-3", "Gamma"}, // 只有 Gamma 声明
		{"mixtral", "Delta"}, // 仅由配置提供
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := r.ResolveDefaultProvider(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := r.ResolveDefaultProvider("orphaned")
	assert.ErrorIs(t, err, ErrModelNotFound, "defaults naming unknown providers are dropped")

	_, err = r.ResolveDefaultProvider("claude-3")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRegistry_Supports(t *testing.T) {
	r := newTestRegistry()

	assert.True(t, r.Supports("Alpha", "gpt-4o"))
	assert.True(t, r.Supports("Beta", "gpt-4o"), "default model counts as supported")
	assert.True(t, r.Supports("Delta", "mixtral"), "configured default provider supports the model")
	assert.False(t, r.Supports("Beta", "gpt-4"))
	assert.False(t, r.Supports("Unknown", "gpt-4"))
}

func TestRegistry_AllModelNames(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, []string{"gpt-4", "gpt-4o", "llama-3", "mixtral"}, r.AllModelNames())
}

func TestRegistry_InitialWorkingSetIsWholeCatalog(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma", "Delta"}, r.WorkingSet())
}

func TestRegistry_ReplaceWorkingSet(t *testing.T) {
	r := newTestRegistry()

	r.ReplaceWorkingSet([]string{"Delta", "Alpha", "Unknown"})

	assert.Equal(t, []string{"Alpha", "Delta"}, r.WorkingSet(), "catalog order, unknown names dropped")
	assert.True(t, r.IsWorking("Alpha"))
	assert.False(t, r.IsWorking("Beta"))
	assert.Len(t, r.WorkingProviders(), 2)

	r.ReplaceWorkingSet(nil)
	assert.Empty(t, r.WorkingSet(), "replacement is not a union")
}

func TestRegistry_Models(t *testing.T) {
	r := newTestRegistry()
	r.ReplaceWorkingSet([]string{"Alpha", "Gamma"})

	m := r.Models()
	assert.Equal(t, []string{"Alpha", "Gamma"}, m["gpt-4"])
	assert.Equal(t, []string{"Alpha"}, m["gpt-4o"])
	assert.Equal(t, []string{"Gamma"}, m["llama-3"])
	assert.NotContains(t, m, "mixtral")
}

func TestRegistry_KnownModels(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, []string{"mixtral"}, r.KnownModels("Delta"))

	r.ReplaceWorkingSet([]string{"Alpha"})
	assert.Empty(t, r.KnownModels("Delta"), "only the working view is consulted")
	assert.Equal(t, []string{"gpt-4", "gpt-4o"}, r.KnownModels("Alpha"))
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := newTestRegistry()
	snap := r.Snapshot()

	r.ReplaceWorkingSet([]string{"Beta"})

	assert.Equal(t, []string{"Alpha", "Beta", "Gamma", "Delta"}, snap.WorkingSet())
	assert.True(t, snap.IsWorking("Alpha"))
	assert.False(t, r.IsWorking("Alpha"))
}

func TestRegistry_SnapshotDrivesSelector(t *testing.T) {
	r := NewRegistry([]*Descriptor{
		{Name: "P1", SupportedModels: []string{"m1"}},
		{Name: "P2", SupportedModels: []string{"m2"}},
	}, nil)
	r.ReplaceWorkingSet([]string{"P1"})

	c, err := balancer.Select([]string{"m1", "m2"}, r.Snapshot(), nil, balancer.NewExclusionSet(), 0)
	require.NoError(t, err)
	assert.Equal(t, balancer.Candidate{Model: "m1", Provider: "P1"}, c)

	_, err = balancer.Select([]string{"m1", "m2"}, r.Snapshot(), nil, balancer.NewExclusionSet(c), 0)
	assert.ErrorIs(t, err, balancer.ErrNotFound)
}
