package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/mod/semver"
)

func TestVersionIsSemantic(t *testing.T) {
	assert.Truef(t, semver.IsValid(Version), "Version %s is not a valid semantic version", Version)
}

func TestIsDevBuild(t *testing.T) {
	previous := Version
	t.Cleanup(func() { Version = previous })

	for _, testCase := range []struct {
		version string
		isDev   bool
	}{
		{version: devVersion, isDev: true},
		{version: "v0.3.1", isDev: true},
		{version: "v1.2.0-rc.1", isDev: true},
		{version: "v1.2.0", isDev: false},
	} {
		t.Run(testCase.version, func(t *testing.T) {
			Version = testCase.version
			assert.Equal(t, testCase.isDev, IsDevBuild())
		})
	}
}
