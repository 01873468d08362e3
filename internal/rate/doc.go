// Package rate is a Redis fixed-window attempt counter.
//
// INCR plus EXPIRE on the first hit. Keys are "<prefix>:<id>"; callers pick
// the prefix per concern (OTP validation uses "aotp").
package rate
