// Package giveaway holds the live giveaway state machine and the stores it owns.
//
// A Machine is the single owner of one round's entrant set, the rolling per-user
// chat buffer, the pending winner, the session ledger and the confirmed-winner
// history. Chat events (Observe) and operator commands (Start, Stop, Roll,
// Reroll, Cancel, Confirm) take the machine lock for their whole mutation, so
// every event or command is applied completely before the next one starts.
//
// Calls that may block (posting to chat, submitting to the external ledger) are
// never made under the lock. They are handed to a Dispatcher after the state
// transition commits and their outcome is only logged.
package giveaway
