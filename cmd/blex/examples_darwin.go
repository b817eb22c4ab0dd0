//go:build darwin

package main

const (
	examplePeripheralID = "01234567-89AB-CDEF-0123-456789ABCDEF"
	peripheralIDNote    = "Peripheral ID format: 128-bit UUID assigned by CoreBluetooth\n  Use 'blex scan' to discover peripherals"
)
