//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/testutils/mocks"
)

type WriteTestSuite struct {
	CommandTestSuite

	client *mocks.MockClient
}

func (suite *WriteTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()
	suite.client = suite.Serve(TestPeripheral1, suite.HeartRateProfile())
}

func (suite *WriteTestSuite) TestWriteCharacteristic() {
	// GOAL: Verify write sends the payload with the requested write type
	//
	// TEST SCENARIO: text write with response, hex write without response → go-ble client receives exact bytes and noRsp flag

	ffe1 := suite.Characteristic(TestPeripheral1, "ffe0", "ffe1")

	suite.Run("text with response", func() {
		resetFlags(rootCmd)
		suite.client.On("WriteCharacteristic", ffe1, []byte("hi"), false).Return(nil).Once()

		out, err := suite.ExecuteCommand("write", TestPeripheral1, "hi", "--char", "ffe1")
		suite.Require().NoError(err, "write MUST succeed")
		suite.Equal("Wrote 2 bytes to ffe0/ffe1\n", out)
		suite.client.AssertCalled(suite.T(), "WriteCharacteristic", ffe1, []byte("hi"), false)
	})

	suite.Run("hex without response", func() {
		resetFlags(rootCmd)
		suite.client.On("WriteCharacteristic", ffe1, []byte{0x01, 0x02, 0xff}, true).Return(nil).Once()

		out, err := suite.ExecuteCommand("write", TestPeripheral1, "01:02:ff", "--hex", "--char", "ffe1", "--without-response")
		suite.Require().NoError(err)
		suite.Equal("Wrote 3 bytes to ffe0/ffe1\n", out)
		suite.client.AssertCalled(suite.T(), "WriteCharacteristic", ffe1, []byte{0x01, 0x02, 0xff}, true)
	})
}

func (suite *WriteTestSuite) TestWriteDescriptor() {
	// GOAL: Verify descriptor writes go to the descriptor, not its characteristic
	//
	// TEST SCENARIO: write 0100 to 2a19/2902 → go-ble WriteDescriptor with the CCCD → confirmation printed

	cccd := suite.Characteristic(TestPeripheral1, "180f", "2a19").Descriptors[0]
	suite.client.On("WriteDescriptor", cccd, []byte{0x01, 0x00}).Return(nil)

	out, err := suite.ExecuteCommand("write", TestPeripheral1, "0100", "-x", "--char", "2a19", "--desc", "2902")
	suite.Require().NoError(err, "descriptor write MUST succeed")
	suite.Equal("Wrote 2 bytes to 180f/2a19/2902\n", out)
	suite.client.AssertNotCalled(suite.T(), "WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *WriteTestSuite) TestWriteFailures() {
	suite.Run("invalid hex is rejected before connecting", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("write", TestPeripheral1, "zz", "--hex", "--char", "ffe1")
		suite.ErrorContains(err, "invalid hex data")
		suite.Device.AssertNotCalled(suite.T(), "Dial", mock.Anything)
	})

	suite.Run("characteristic is not writable", func() {
		resetFlags(rootCmd)
		_, err := suite.ExecuteCommand("write", TestPeripheral1, "x", "--char", "2a19")
		suite.ErrorIs(err, ErrNotSupported)
	})

	suite.Run("peripheral rejects the write", func() {
		resetFlags(rootCmd)
		ffe1 := suite.Characteristic(TestPeripheral1, "ffe0", "ffe1")
		suite.client.On("WriteCharacteristic", ffe1, []byte("no"), false).Return(errors.New("write not permitted")).Once()

		_, err := suite.ExecuteCommand("write", TestPeripheral1, "no", "--char", "ffe1")
		suite.ErrorContains(err, "write not permitted")
	})
}

func TestWriteTestSuite(t *testing.T) {
	suitelib.Run(t, new(WriteTestSuite))
}
