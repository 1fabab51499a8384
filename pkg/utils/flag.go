package utils

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetTestFlag sets the flag `name` to `value` until the test, or benchmark, and its subtests finish.
func SetTestFlag(tb testing.TB, name, value string) {
	tb.Helper()
	flagHolder := flag.Lookup(name)
	require.NotNil(tb, flagHolder, "Flag --%s is not registered", name)
	prevValue := flagHolder.Value.String()
	require.NoError(tb, flag.Set(name, value), "Invalid value %q for --%s", value, name)
	tb.Cleanup(func() { require.NoError(tb, flag.Set(name, prevValue)) })
}
