// Package models defines the core domain models for BestellDesk.
//
// # Models
//
//   - Restaurant: a supplier with a menu of items, optional categories and a
//     delivery fee
//   - MenuItem: a single dish on a restaurant's menu
//   - Participant: a person placing or sharing orders
//   - Order / OrderLine: an order placed by one participant against one
//     restaurant, with optional shared-split lines
//   - Settings: singleton workspace settings (active restaurant, order window)
//   - Ledger: the complete workspace state
//   - Snapshot: an immutable, revision-numbered, content-hashed copy of the
//     ledger - the unit of export, import, encryption and sync
//   - PaymentOverview: derived per-participant totals, never persisted
//
// # Design Principles
//
//  1. **Money is integer cents**: amounts are Cents (int64), never floating
//     point, so split arithmetic is exact.
//  2. **IDs are strings**: UUID strings, no pointers between entities, so the
//     whole ledger serializes flat.
//  3. **Timestamps are unix milliseconds**: every entity carries UpdatedAt
//     for the entity-level last-writer-wins merge.
//  4. **Canonical serialization**: collections are sorted by ID and struct
//     field order is fixed, so identical ledger state always produces
//     identical bytes and a stable content hash.
package models
