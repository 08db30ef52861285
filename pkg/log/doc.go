/*
Package log provides structured logging for the DWN engine using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for the identifiers every engine operation threads through its logs:
tenant, recordId, and messageCid.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("protocol")                │          │
	│  │  - WithTenant(did)                          │          │
	│  │  - WithRecordID(recordId)                   │          │
	│  │  - WithMessageCID(messageCid)               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	import "github.com/ryftlabs/dwn/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("engine starting")

	opLog := log.WithComponent("protocol").With().
		Str("tenant", tenant).
		Str("record_id", recordID).
		Logger()
	opLog.Info().Msg("authorized record write")

# Levels

Debug: verbose per-operation tracing, off by default in production.
Info: lifecycle events (engine started, tenant ordering log bootstrapped).
Warn: recoverable anomalies (reconciliation sweep skipped a stale task).
Error: operation failures worth investigating.
Fatal: unrecoverable startup errors; logs then os.Exit(1).

# See Also

  - pkg/metrics for the companion Prometheus instrumentation
*/
package log
