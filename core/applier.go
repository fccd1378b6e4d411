package core

// ApplyResult is the outcome of Apply: whether a new Record was inserted and
// the balance/record that resulted.
type ApplyResult struct {
	Balance   int64
	Inserted  bool
	Record    Record
}

// Apply is the idempotent ledger mutator (C2). It is a pure function of its
// arguments plus ring, which it mutates. Ties on TxnID are resolved
// first-writer-wins: the first apply defines the Record forever, and the
// Delta inside a replay envelope is ignored even if it differs.
func Apply(currentBalance int64, cmd Command, ring *Ring, nowMillis int64) ApplyResult {
	candidate := Record{
		TxnID:        cmd.TxnID,
		Delta:        cmd.Delta,
		BalanceAfter: currentBalance + cmd.Delta,
		Actor:        cmd.Actor,
		Source:       cmd.Source,
		Reason:       cmd.Reason,
		ProcessedAt:  nowMillis,
	}
	inserted, stored := ring.Record(candidate)
	if !inserted {
		return ApplyResult{Balance: currentBalance, Inserted: false, Record: stored}
	}
	return ApplyResult{Balance: candidate.BalanceAfter, Inserted: true, Record: candidate}
}
