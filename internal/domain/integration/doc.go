// Package integration contains the Integration bounded context for pushing
// unified catalog, inventory and order records into a WooCommerce store.
//
// Key concepts:
//   - StreamKind: closed set of inbound record streams (products, variants, inventory, orders, notes)
//   - UnifiedRecord: normalized inbound record, one concrete type per stream
//   - RemoteEntity: the platform's view of a product, variation, category, attribute, customer or order
//   - SyncState: per-stream bookmarks and summary counters handed in and out of every run
//
// Design Pattern: Ports & Adapters
//   - Ports (RemoteAPI, ReferenceData) are defined here in the domain layer
//   - Adapters (the WooCommerce REST client and reference cache) are in the infrastructure layer
package integration
