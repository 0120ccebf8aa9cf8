package testing

import (
	"context"
	"testing"

	"github.com/marmos91/feedfs/pkg/store"
)

// StoreTestSuite checks the store.Storage contract. It tests behaviour,
// not implementation details, so every backend runs the same cases.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.Storage {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test. It may register
	// cleanup with t.
	NewStore func(t *testing.T) store.Storage
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ListOperations", suite.RunListTests)
	t.Run("Lifecycle", suite.RunLifecycleTests)
}

func testContext() context.Context {
	return context.Background()
}
