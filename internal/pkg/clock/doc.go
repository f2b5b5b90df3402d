// Package clock abstracts the wall clock.
//
// Ack deadlines and publish timestamps are computed from a Clocker so the
// redelivery rules can be driven deterministically from tests with Manual.
package clock
