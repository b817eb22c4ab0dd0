//go:build test

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/testutils"
)

type InspectTestSuite struct {
	CommandTestSuite
}

func (suite *InspectTestSuite) TestInspectTree() {
	// GOAL: Verify inspect walks the whole GATT tree and prints it in stable order
	//
	// TEST SCENARIO: peripheral serves three services → inspect → tree sorted by UUID with names, properties, and decoded descriptors

	suite.Serve(TestPeripheral1, suite.HeartRateProfile())

	out, err := suite.ExecuteCommand("inspect", TestPeripheral1)
	suite.Require().NoError(err, "inspect MUST succeed")

	testutils.NewTextAsserter(suite.T()).Assert(out, `
Peripheral 00:00:00:00:00:01 (Device 01)  RSSI -50 dBm
  Service 180d (Heart Rate)
    Characteristic 2a37 (Heart Rate Measurement)  [notify]
      Descriptor 2902 (Client Characteristic Configuration): notifications=off indications=off
  Service 180f (Battery Service)
    Characteristic 2a19 (Battery Level)  [read,notify]
      Descriptor 2902 (Client Characteristic Configuration): notifications=on indications=off
      Descriptor 2901 (Characteristic User Description): "Battery"
  Service ffe0
    Characteristic ffe1  [read,write_without_response,write]
`)
}

func (suite *InspectTestSuite) TestInspectReadJSON() {
	// GOAL: Verify --read fills values and per-characteristic read failures do not abort the command
	//
	// TEST SCENARIO: ffe1 read fails → inspect --read --format json → 2a19 has its value, ffe1 carries the error

	client := suite.Serve(TestPeripheral1, suite.HeartRateProfile())
	ffe1 := suite.Characteristic(TestPeripheral1, "ffe0", "ffe1")
	client.On("ReadCharacteristic", ffe1).Unset()
	client.On("ReadCharacteristic", ffe1).Return(nil, errors.New("insufficient authentication"))

	out, err := suite.ExecuteCommand("inspect", TestPeripheral1, "--read", "--format", "json")
	suite.Require().NoError(err, "inspect MUST succeed despite a failed read")

	testutils.NewJSONAsserter(suite.T()).Assert(out, `{
		"id": "00:00:00:00:00:01",
		"name": "Device 01",
		"rssi": -50,
		"services": [
			{"uuid": "180d", "name": "Heart Rate", "primary": true, "characteristics": [
				{"uuid": "2a37", "properties": ["notify"], "descriptors": [
					{"uuid": "2902", "value": "0000", "decoded": {"notifications": false, "indications": false}}
				]}
			]},
			{"uuid": "180f", "name": "Battery Service", "primary": true, "characteristics": [
				{"uuid": "2a19", "name": "Battery Level", "properties": ["read", "notify"], "value": "55", "descriptors": [
					{"uuid": "2902", "decoded": {"notifications": true, "indications": false}},
					{"uuid": "2901", "value": "42617474657279", "decoded": "Battery"}
				]}
			]},
			{"uuid": "ffe0", "primary": true, "characteristics": [
				{"uuid": "ffe1", "properties": ["read", "write_without_response", "write"], "error": "<<PRESENCE>>"}
			]}
		]
	}`)
	suite.NotContains(out, `"value": "68656c6c6f"`, "failed read MUST NOT report a value")
}

func (suite *InspectTestSuite) TestInspectNotFound() {
	// GOAL: Verify inspect gives up when the peripheral never advertises
	//
	// TEST SCENARIO: nothing served → inspect with short timeout → ErrPeripheralNotFound

	_, err := suite.ExecuteCommand("inspect", TestPeripheral2, "--timeout", "300ms")
	suite.ErrorIs(err, ErrPeripheralNotFound)
	suite.Equal("peripheral not found: "+TestPeripheral2, FormatUserError(err))
}

func (suite *InspectTestSuite) TestInspectHonoursConfiguredCriteria() {
	// GOAL: Verify a targeted connect keeps the configured discovery criteria
	//
	// TEST SCENARIO: peripheral advertises at -50 dBm → config floor -40 hides it, config floor -60 admits it

	suite.Serve(TestPeripheral1, suite.HeartRateProfile())
	writeConfig := func(minRSSI string) string {
		path := filepath.Join(suite.T().TempDir(), "blex.yaml")
		suite.Require().NoError(os.WriteFile(path, []byte("criteria:\n  min_rssi: "+minRSSI+"\n"), 0o600))
		return path
	}

	suite.Run("floor above the signal", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("inspect", TestPeripheral1, "--timeout", "300ms", "--config", writeConfig("-40"))
		suite.ErrorIs(err, ErrPeripheralNotFound, "min_rssi MUST still filter the target")
	})

	suite.Run("floor below the signal", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("inspect", TestPeripheral1, "--timeout", "2s", "--config", writeConfig("-60"))
		suite.NoError(err)
	})
}

func TestInspectTestSuite(t *testing.T) {
	suitelib.Run(t, new(InspectTestSuite))
}
