//go:build test

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/testutils"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (suite *ScanTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()

	suite.Advertise(testutils.CreateAdvertisement(TestPeripheral1, "HR Strap", -48).WithServices("180d"))
	suite.Advertise(testutils.CreateAdvertisement(TestPeripheral2, "Thermometer", -71).
		WithServices("1809").
		WithManufacturerData([]byte{0x4c, 0x00}))
	suite.Advertise(testutils.CreateAdvertisement("00:00:00:00:00:03", "", -60))
}

func (suite *ScanTestSuite) TestScanJSON() {
	// GOAL: Verify scan stages named peripherals and prints them strongest first
	//
	// TEST SCENARIO: three adverts, one unnamed → scan 200ms as JSON → two entries ordered by RSSI

	out, err := suite.ExecuteCommand("scan", "--duration", "200ms", "--format", "json")
	suite.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(suite.T()).Assert(out, `[
		{"id": "00:00:00:00:00:01", "name": "HR Strap", "rssi": -48, "connectable": true, "services": ["180d"]},
		{"id": "00:00:00:00:00:02", "name": "Thermometer", "rssi": -71, "connectable": true, "services": ["1809"], "manufacturer_data": "4c00"}
	]`)
}

func (suite *ScanTestSuite) TestScanFilters() {
	suite.Run("unnamed peripherals are staged on request", func() {
		resetFlags(rootCmd)
		out, err := suite.ExecuteCommand("scan", "-d", "200ms", "-f", "json", "--allow-unnamed")
		suite.Require().NoError(err)

		testutils.NewJSONAsserter(suite.T()).Assert(out, `[
			{"id": "00:00:00:00:00:01"},
			{"id": "00:00:00:00:00:03", "name": ""},
			{"id": "00:00:00:00:00:02"}
		]`)
	})

	suite.Run("service filter", func() {
		resetFlags(rootCmd)
		out, err := suite.ExecuteCommand("scan", "-d", "200ms", "-f", "json", "--services", "1809")
		suite.Require().NoError(err)

		testutils.NewJSONAsserter(suite.T()).Assert(out, `[{"id": "00:00:00:00:00:02", "name": "Thermometer"}]`)
	})

	suite.Run("rssi floor", func() {
		resetFlags(rootCmd)
		out, err := suite.ExecuteCommand("scan", "-d", "200ms", "-f", "json", "--min-rssi", "-50")
		suite.Require().NoError(err)

		testutils.NewJSONAsserter(suite.T()).Assert(out, `[{"id": "00:00:00:00:00:01", "name": "HR Strap"}]`)
	})

	suite.Run("criteria from config file", func() {
		resetFlags(rootCmd)
		path := filepath.Join(suite.T().TempDir(), "blex.yaml")
		suite.Require().NoError(os.WriteFile(path, []byte(`
output_format: json
criteria:
  allow_unnamed: true
  min_rssi: -65
`), 0o600))

		out, err := suite.ExecuteCommand("scan", "-d", "200ms", "--config", path)
		suite.Require().NoError(err)

		testutils.NewJSONAsserter(suite.T()).Assert(out, `[
			{"id": "00:00:00:00:00:01"},
			{"id": "00:00:00:00:00:03"}
		]`)
	})
}

func (suite *ScanTestSuite) TestScanTable() {
	out, err := suite.ExecuteCommand("scan", "--duration", "200ms")
	suite.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	suite.Require().Len(lines, 4, "table MUST have a header, a rule, and one row per peripheral")
	suite.Regexp(`^NAME\s+ID\s+RSSI\s+CONNECTABLE\s+SERVICES$`, lines[0])
	suite.Regexp(`^HR Strap\s+00:00:00:00:00:01\s+-48 dBm\s+yes\s+180d$`, lines[2])
	suite.Regexp(`^Thermometer\s+00:00:00:00:00:02\s+-71 dBm\s+yes\s+1809$`, lines[3])
}

func (suite *ScanTestSuite) TestScanNothingFound() {
	resetFlags(rootCmd)
	out, err := suite.ExecuteCommand("scan", "-d", "200ms", "--services", "fff0")
	suite.Require().NoError(err)
	suite.Contains(out, "No peripherals discovered")
}

func (suite *ScanTestSuite) TestInvalidArguments() {
	suite.Run("unknown format", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("scan", "--format", "xml")
		suite.ErrorContains(err, `output_format: unsupported format "xml"`)
	})

	suite.Run("negative duration", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("scan", "--duration", "-1s")
		suite.ErrorContains(err, "invalid duration")
	})

	suite.Run("unknown log level", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("scan", "--log-level", "chatty")
		suite.ErrorContains(err, "invalid log level: chatty")
	})
}

func TestScanTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScanTestSuite))
}
