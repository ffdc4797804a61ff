// Package flux decodes Flux annotated CSV query responses into typed tables and records.
//
// A response is a stream of blocks. Each block carries annotation rows
// (#datatype, #group, #default), a header row naming the columns and any
// number of data rows. A single block can hold several tables, told apart by
// the "table" column, and blocks are separated by a blank line.
//
// # Purpose
//
// This package is the decoding core of the query client:
//   - Streaming parse with table/record callbacks (Consumer)
//   - Per-column type coercion for every Flux datatype annotation
//   - Detection of the in-band error table (error,reference)
//   - Cooperative cancellation between rows
//
// # Usage
//
//	parser := flux.NewParser(flux.ModeFull)
//
//	tables, err := parser.Tables(ctx, resp.Body)
//	if err != nil {
//	    var qerr *flux.QueryError
//	    if errors.As(err, &qerr) {
//	        // server-side query failure
//	    }
//	    return err
//	}
//
//	for ev, err := range parser.Events(ctx, resp.Body) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Kind == flux.EventRecord {
//	        fmt.Println(ev.Record.Time(), ev.Record.Value())
//	    }
//	}
//
// # Thread Safety
//
// A Parser holds no per-call state and can be shared. Each Parse call owns its
// schema and table map and invokes the consumer synchronously on the calling
// goroutine. Canceller is safe to use from any goroutine.
//
// # Error Handling
//
// Malformed input is reported as *ParseError wrapping one of the sentinel
// errors. A well-formed error table sent by the server is reported as
// *QueryError. Records already delivered before an error are not retracted.
package flux
