package ghapi

import (
	"context"
	"testing"

	"github.com/provtrack/repostore/internal/ghapi/ghapitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	srv := ghapitest.New(t)
	c := newTestClient(t, srv)

	info, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ghapitest.Owner+"/"+ghapitest.Repo, info.FullName)
	assert.Equal(t, ghapitest.Branch, info.DefaultBranch)
	assert.True(t, info.BranchExists)
	assert.True(t, info.CanPush)
}

func TestProbe_ReadOnlyAndMissingBranch(t *testing.T) {
	srv := ghapitest.New(t, ghapitest.ReadOnly())
	c, err := New(&Config{
		BaseURL: srv.URL,
		Owner:   ghapitest.Owner,
		Repo:    ghapitest.Repo,
		Branch:  "gh-pages",
		Token:   ghapitest.Token,
	})
	require.NoError(t, err)

	info, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, info.CanPush)
	assert.False(t, info.BranchExists)
	assert.Equal(t, "gh-pages", info.Branch)
}

func TestProbe_UnknownRepository(t *testing.T) {
	srv := ghapitest.New(t)
	c, err := New(&Config{BaseURL: srv.URL, Owner: "someone", Repo: "else", Token: ghapitest.Token})
	require.NoError(t, err)

	_, err = c.Probe(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
