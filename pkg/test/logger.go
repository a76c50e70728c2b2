// SPDX-License-Identifier: AGPL-3.0-only

package test

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type testingLogger struct {
	t testing.TB
}

// NewTestingLogger returns a logger writing through t.Log, so output is
// attached to the test that produced it.
func NewTestingLogger(t testing.TB) log.Logger {
	return &testingLogger{
		t: t,
	}
}

// NewLeveledTestingLogger is NewTestingLogger filtered to warnings and errors.
func NewLeveledTestingLogger(t testing.TB) log.Logger {
	return level.NewFilter(NewTestingLogger(t), level.AllowWarn())
}

func (l *testingLogger) Log(keyvals ...interface{}) error {
	l.t.Helper()
	l.t.Log(keyvals...)
	return nil
}
