package domaintest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewToken returns a random string shaped like an opaque bearer token
func NewToken(t *testing.T) string {
	id, err := uuid.NewRandom()
	require.NoError(t, err)
	return "tok-" + id.String()
}
