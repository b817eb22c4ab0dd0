//go:build !darwin

package main

const (
	examplePeripheralID = "AA:BB:CC:DD:EE:FF"
	peripheralIDNote    = "Peripheral ID format: Bluetooth device address\n  Use 'blex scan' to discover peripherals"
)
