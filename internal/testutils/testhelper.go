//go:build test

package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper carries the fixtures shared by the explorer, radio, and command suites.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger, so failing
// runs show the full callback trace.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateAdvertisement starts an advertisement for id carrying a platform name.
func CreateAdvertisement(id, name string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithID(id).WithName(name).WithRSSI(rssi)
}

func CreateProfile() *ProfileBuilder {
	return NewProfileBuilder()
}

// CreateProfileFromJSON builds a profile from a JSON document with fmt verbs.
func CreateProfileFromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	return NewProfileBuilder().FromJSON(jsonStrFmt, args...)
}
