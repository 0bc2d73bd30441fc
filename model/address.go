package model

import "strings"

// Address is the link-layer address of a terminal. Addresses are unique
// within a beam and are used as registry keys by the beam scheduler.
type Address string

// BroadcastAddress is the destination of control messages meant for every
// terminal listening on a beam's control channel.
const BroadcastAddress Address = "ff:ff:ff:ff:ff:ff"

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

// IsBroadcast reports whether a is the broadcast address.
func (a Address) IsBroadcast() bool {
	return strings.EqualFold(string(a), string(BroadcastAddress))
}
