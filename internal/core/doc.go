// Package core provides the business logic for supplier catalog imports.
//
// This package contains all domain logic independent of any transport or
// storage technology. The HTTP server, the one-shot CLI and the tests all
// drive it through the same types.
//
// # Pipeline
//
// A run replaces the whole product catalog with the contents of one
// ';'-separated, ISO-8859-1 encoded file:
//
//  1. [BatchImporter.ResolveDefaults] looks up the default tax and shipping
//     categories and [NewCatalogReader] validates the header. Nothing has
//     been written yet.
//  2. [BatchImporter.Replace] deletes every product in one transaction.
//  3. Rows are streamed and handed to a bounded pool of [RowImporter]s.
//
// Each row is one unit of work: the [FieldMapper] builds the product
// attributes, the image is downloaded and staged, then a single transaction
// upserts the product by slug, attaches [PropertyColumns], binds the
// four-level category path and links the image. A failing row is rolled
// back and reported as a [RowFailure] tagged with its [ErrorKind]; the batch
// continues.
//
// # Service
//
// [Service] owns import records: [Service.CreateImport] stores the file,
// records a pending import and starts the run once the record is committed.
// Only one run per catalog executes at a time; a second request fails with
// [ErrImportInProgress]. Progress is broadcast through
// [Service.SubscribeProgress] and failure reports are persisted for
// [Service.GetFailedRows].
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with support codes by
// [MapError]:
//
//   - IMP001-IMP013: Import errors (row kinds, header, defaults, concurrency)
//   - DB001-DB004: Database errors (connections, timeouts, deadlocks)
//   - FILE001-FILE004: File errors (size, type, empty)
//   - UPL001-UPL003: Run errors (cancelled, timeout)
package core
