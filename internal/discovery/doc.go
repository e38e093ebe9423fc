// Package discovery advertises the simulator's TCP endpoint over mDNS and
// browses for running simulators.
//
// The service type defaults to _hwsim._tcp in the local. domain. TXT records
// carry the server identity, payload codec, version and device count so a
// client can pick a codec before connecting.
package discovery
