package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainTypeHas(t *testing.T) {
	ct := Persistant | AutoDelete
	assert.True(t, ct.Has(Persistant))
	assert.True(t, ct.Has(AutoDelete))
	assert.False(t, ChainType(0).Has(Persistant))
}

func TestDataMergePre_NoExistingAdditional(t *testing.T) {
	original := &Data{Inline: []byte("original")}
	pre := &Data{Inline: []byte("pre-result")}

	merged := original.MergePre(pre)

	require.NotNil(t, merged.Origin)
	assert.Equal(t, original, merged.Origin)
	require.Len(t, merged.AdditionalData, 1)
	assert.Equal(t, pre, merged.AdditionalData[0])
}

func TestDataMergePre_AppendsToExistingAdditional(t *testing.T) {
	first := &Data{Inline: []byte("first-pre")}
	original := &Data{Inline: []byte("original"), AdditionalData: []*Data{first}}
	second := &Data{Inline: []byte("second-pre")}

	merged := original.MergePre(second)

	assert.Same(t, original, merged)
	require.Len(t, merged.AdditionalData, 2)
	assert.Equal(t, first, merged.AdditionalData[0])
	assert.Equal(t, second, merged.AdditionalData[1])
}

func TestDataIsBlobBacked(t *testing.T) {
	assert.False(t, (&Data{Inline: []byte("x")}).IsBlobBacked())
	assert.True(t, (&Data{BlobRef: &BlobReference{URL: "https://blob/x"}}).IsBlobBacked())
	var nilData *Data
	assert.False(t, nilData.IsBlobBacked())
}

func validConfig() NodeConfig {
	return NodeConfig{
		ChainID:  "chain-1",
		Index:    0,
		Count:    1,
		Location: LocationLocal,
		Services: []ServiceConfig{{TargetID: "svc-a"}},
	}
}

func TestNodeConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*NodeConfig)
		wantErr bool
	}{
		{"valid", func(c *NodeConfig) {}, false},
		{"missing chain id", func(c *NodeConfig) { c.ChainID = "" }, true},
		{"negative index", func(c *NodeConfig) { c.Index = -1 }, true},
		{"zero count", func(c *NodeConfig) { c.Count = 0 }, true},
		{"index out of range", func(c *NodeConfig) { c.Index = 5 }, true},
		{"no services", func(c *NodeConfig) { c.Services = nil }, true},
		{"unknown location", func(c *NodeConfig) { c.Location = "nowhere" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChainConfigValidate(t *testing.T) {
	c0 := validConfig()
	c0.Count = 2
	c1 := validConfig()
	c1.Index = 1
	c1.Count = 2

	assert.NoError(t, ChainConfig{c0, c1}.Validate())
}

func TestChainConfigValidate_DuplicateIndex(t *testing.T) {
	c0 := validConfig()
	c0.Count = 2
	c1 := validConfig()
	c1.Count = 2 // duplicate index 0

	err := ChainConfig{c0, c1}.Validate()
	assert.Error(t, err)
}

func TestChainConfigValidate_SparseIndex(t *testing.T) {
	c0 := validConfig()
	c0.Count = 2
	c2 := validConfig()
	c2.Index = 2
	c2.Count = 2 // index 1 is missing

	err := ChainConfig{c0, c2}.Validate()
	assert.Error(t, err)
}

func TestChainConfigValidate_Empty(t *testing.T) {
	assert.Error(t, ChainConfig{}.Validate())
}
