// Package core holds the record model shared by every pipeline stage.
//
// It has no storage, transport or UI dependencies, so the quality engine,
// the cleanser, the versioner and both store implementations can all depend
// on it.
//
// # Entity Registry
//
// Entities are registered at init time using [Register] (see the entities
// subpackage). Each [EntityDefinition] names the raw file, the business key,
// the source columns in file order and the load order:
//
//	core.Register(core.EntityDefinition{
//	    Name:        "customers",
//	    BusinessKey: "customer_id",
//	    FileName:    "customers.csv",
//	    Fields: []core.FieldSpec{
//	        {Name: "customer_id", Type: core.FieldText, Required: true},
//	        {Name: "registration_date", Type: core.FieldDate},
//	    },
//	    LoadOrder: 1,
//	})
//
// [All] and [Names] return entities in load order, parents first.
//
// # Records
//
// A [StagedRecord] is a loosely typed raw row. Cleansing turns it into one of
// the typed [CleansedRecord] variants: [Customer], [Product], [Transaction]
// or [TransactionItem]. Money is [github.com/shopspring/decimal.Decimal]
// throughout; [LineTotal] is the one place a line amount is computed.
//
// # Errors
//
// Failures are classified by [Kind]. Only [KindTransientStore] is retried.
// [MapError] turns any error into an operator message with a support code:
//
//   - DB001-DB007: store connectivity and constraints
//   - CFG001-CFG002: configuration
//   - QG001, ROW001, INT001-INT002, SRC001: data
//   - RUN001-RUN003: run control
//
// # Runs
//
// [ExecutionLogEntry] is one stage outcome; [SummarizeRuns] folds entries
// into per-run summaries whose status is the worst of their stages.
// [RunLimiter] keeps runs from overlapping.
package core
