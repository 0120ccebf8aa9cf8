package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/feedfs/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests covers Get, Put and Delete.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("PutGet", suite.testPutGet)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Put_EmptyValue", suite.testPutEmptyValue)
	t.Run("Put_LargeValue", suite.testPutLargeValue)
	t.Run("Get_ReturnsCopy", suite.testGetReturnsCopy)
	t.Run("Delete", suite.testDelete)
	t.Run("Delete_Missing", suite.testDeleteMissing)
	t.Run("ConcurrentPut", suite.testConcurrentPut)
}

// RunListTests covers List ordering and feed scoping.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_Ordered", suite.testListOrdered)
	t.Run("List_ScopedToFeed", suite.testListScopedToFeed)
	t.Run("List_AfterDelete", suite.testListAfterDelete)
}

// RunLifecycleTests covers context cancellation.
func (suite *StoreTestSuite) RunLifecycleTests(t *testing.T) {
	t.Run("CancelledContext", suite.testCancelledContext)
}

// ============================================================================
// Basic Tests
// ============================================================================

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	s := suite.NewStore(t)

	_, err := s.Get(testContext(), store.Key("demo", "missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "a1")

	require.NoError(t, s.Put(testContext(), key, []byte("hello")))

	got, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func (suite *StoreTestSuite) testPutOverwrite(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "a1")

	require.NoError(t, s.Put(testContext(), key, []byte("first")))
	require.NoError(t, s.Put(testContext(), key, []byte("second")))

	got, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	keys, err := s.List(testContext(), "demo")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func (suite *StoreTestSuite) testPutEmptyValue(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "empty")

	require.NoError(t, s.Put(testContext(), key, []byte{}))

	got, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (suite *StoreTestSuite) testPutLargeValue(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "large")
	value := bytes.Repeat([]byte("feedfs"), 200_000)

	require.NoError(t, s.Put(testContext(), key, value))

	got, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func (suite *StoreTestSuite) testGetReturnsCopy(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "copy")
	value := []byte("immutable")

	require.NoError(t, s.Put(testContext(), key, value))
	value[0] = 'X'

	got, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), got)

	got[0] = 'Y'
	again, err := s.Get(testContext(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), again)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	s := suite.NewStore(t)
	key := store.Key("demo", "gone")

	require.NoError(t, s.Put(testContext(), key, []byte("x")))
	require.NoError(t, s.Delete(testContext(), key))

	_, err := s.Get(testContext(), key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testDeleteMissing(t *testing.T) {
	s := suite.NewStore(t)
	assert.NoError(t, s.Delete(testContext(), store.Key("demo", "never-existed")))
}

func (suite *StoreTestSuite) testConcurrentPut(t *testing.T) {
	s := suite.NewStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := store.Key("demo", fmt.Sprintf("%02d", i))
			assert.NoError(t, s.Put(testContext(), key, []byte(key)))
		}(i)
	}
	wg.Wait()

	keys, err := s.List(testContext(), "demo")
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}

// ============================================================================
// List Tests
// ============================================================================

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	s := suite.NewStore(t)

	keys, err := s.List(testContext(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func (suite *StoreTestSuite) testListOrdered(t *testing.T) {
	s := suite.NewStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(testContext(), store.Key("demo", id), []byte(id)))
	}

	keys, err := s.List(testContext(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:a", "demo:b", "demo:c"}, keys)
}

func (suite *StoreTestSuite) testListScopedToFeed(t *testing.T) {
	s := suite.NewStore(t)

	require.NoError(t, s.Put(testContext(), store.Key("demo", "a"), []byte("1")))
	require.NoError(t, s.Put(testContext(), store.Key("demo-extra", "b"), []byte("2")))
	require.NoError(t, s.Put(testContext(), store.Key("other", "c"), []byte("3")))

	keys, err := s.List(testContext(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:a"}, keys)
}

func (suite *StoreTestSuite) testListAfterDelete(t *testing.T) {
	s := suite.NewStore(t)

	require.NoError(t, s.Put(testContext(), store.Key("demo", "a"), []byte("1")))
	require.NoError(t, s.Put(testContext(), store.Key("demo", "b"), []byte("2")))
	require.NoError(t, s.Delete(testContext(), store.Key("demo", "a")))

	keys, err := s.List(testContext(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo:b"}, keys)
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	s := suite.NewStore(t)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	assert.Error(t, s.Put(ctx, store.Key("demo", "a"), []byte("1")))
	_, err := s.Get(ctx, store.Key("demo", "a"))
	assert.Error(t, err)
	_, err = s.List(ctx, "demo")
	assert.Error(t, err)
}
