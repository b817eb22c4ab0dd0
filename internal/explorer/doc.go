// Package explorer mirrors the GATT hierarchy of nearby Bluetooth Low Energy
// peripherals and drives its discovery against an asynchronous radio stack.
//
// The object graph is a strict ownership tree:
//
//	Central
//	  ├── DiscoveryRecord (staged / ignored scan results)
//	  └── PeripheralNode (connected)
//	        └── ServiceNode
//	              └── CharacteristicNode
//	                    └── DescriptorNode
//
// The Central is the single point of contact with the Radio (outbound requests)
// and receives every radio callback through the RadioObserver methods it
// implements. Discovery fans out top-down (services, then characteristics, then
// descriptors) and completes bottom-up: a service is settled only after every
// one of its characteristics has finished descriptor discovery, and a
// peripheral is ready only after every service has settled.
//
// All tree state is guarded by the Central's lock. Delegate notifications are
// collected while the lock is held and handed to the configured Dispatcher
// after it is released, so delegates may call back into the Central freely.
// Errors raised anywhere in the tree travel up the parent chain and reach the
// Delegate exactly once, reported against the Central.
package explorer
