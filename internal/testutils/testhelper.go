package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Context returns a context cancelled when the test ends or after timeout.
func (h *TestHelper) Context(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	h.T.Cleanup(cancel)
	return ctx
}

// CreateObjectTree starts a builder for a fake BlueZ object tree.
func CreateObjectTree() *ObjectTreeBuilder {
	return NewObjectTreeBuilder()
}

// CreateObjectTreeFromJSON starts a builder from a JSON description.
func CreateObjectTreeFromJSON(jsonStrFmt string, args ...interface{}) *ObjectTreeBuilder {
	return NewObjectTreeBuilder().FromJSON(jsonStrFmt, args...)
}
