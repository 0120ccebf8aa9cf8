package memory

import (
	"context"
	"testing"

	"github.com/marmos91/feedfs/pkg/store"
	storetesting "github.com/marmos91/feedfs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.Storage {
			return New()
		},
	}
	suite.Run(t)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := New()
	assert.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.Put(ctx, "demo:a", []byte("x")), store.ErrClosed)
	_, err := s.Get(ctx, "demo:a")
	assert.ErrorIs(t, err, store.ErrClosed)
}
