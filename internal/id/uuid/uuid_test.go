package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewJobID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewJobID()
	require.NoError(t, err)
	id2, err := gen.NewJobID()
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, goUUID.Version(7), id1.Version())
	require.LessOrEqual(t, id1.String(), id2.String())
}

func TestGeneratorResolve(t *testing.T) {
	t.Parallel()

	gen := New()
	fixed := "0192f5a0-7c1e-7d3a-9c4b-2f1e0d9c8b7a"
	id, err := gen.Resolve(fixed)
	require.NoError(t, err)
	require.Equal(t, fixed, id.String())

	fresh, err := gen.Resolve("")
	require.NoError(t, err)
	require.NotEqual(t, goUUID.Nil, fresh)

	_, err = gen.Resolve("not-a-uuid")
	require.ErrorContains(t, err, "parse job id")
}
