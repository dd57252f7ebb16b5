// Package device implements the central-side state machine on top of BlueZ.
//
// It provides:
//   - Registry: the locally known set of discovered peripherals
//   - Session: the single connection and its connect/disconnect transitions
//   - Catalog: the characteristics of the connected device, keyed by object path
//   - Dispatcher: subscribe/unsubscribe bookkeeping and notification routing
//
// State is owned by these components and mutated only by the controlling
// caller; the dispatch goroutine reads the Catalog and the subscription table.
package device
