// Package engine runs store synchronisation sessions between sites.
//
// A remote site runs sessions against its central peer:
//
//	Created -> Pulling -> Integrating -> Pushing -> Finished
//
// with Failed reachable from any non-terminal state. The central site runs
// integrate-only sessions over what remote sites pushed to its Hub.
//
// Phases are strictly sequential. Within the pull phase the next page is
// fetched while the previous one is staged. Integration walks tables in the
// order resolved from translator dependencies, so a referenced row is always
// integrated before rows that reference it.
//
// Checkpoints:
//   - pull cursor: advanced in the transaction that stages its page
//   - buffer records: integrated_at set once applied, never reapplied
//   - push cursor: advanced after the peer acknowledges a batch
//
// An interrupted session therefore resumes from its last checkpoint on the
// next run. Ordering never depends on wall time; changelog sequences and
// buffer ids order everything.
//
// Errors are classified by package syncerr. Record-level failures are kept
// against the buffered record and retried by later sessions; transport and
// configuration failures abort the session.
package engine
