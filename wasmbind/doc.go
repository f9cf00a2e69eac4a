// Package wasmbind exposes bridge handles to WebAssembly guests run by
// wazero.
//
// Guests import the "bridge" module. Handles travel as i32 and strings as
// pointer and length pairs into guest memory. Calls return a status: zero
// or a non-negative count on success, a negative code per error kind on
// failure, after which last_error copies the message out.
//
// Values come back through a 16-byte slot at an out pointer: a u32 tag
// (nil, bool, int, float, string, handle), a u32 aux and a u64 payload.
// String values are parked on the host; aux holds their length and
// take_str copies them into a guest buffer.
//
// Handles returned to a guest are owned by it and stay live until it calls
// drop, or until Host.Close.
package wasmbind
