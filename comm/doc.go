// Package comm moves rows between ranks.
//
// A Transport delivers tagged byte messages between the ranks of a group.
// Sends are eager: they complete once the message is queued for the peer, so
// a rank can send to every peer before receiving. Messages between a pair of
// ranks with the same tag arrive in order.
//
// On top of any Transport the package provides collectives (AllToAll,
// AllToAllV, AllGather, AllReduceSum, Barrier) and the Communicator, which
// owns one outbox table per destination and one inbox table:
//
//	c, _ := comm.New(tr, layout)
//	i, _ := c.Outbox(dst).PushBack()
//	// fill c.Outbox(dst).View(i) ...
//	n, err := c.Communicate(ctx) // n rows now in c.Inbox()
//
// Every rank of the group must call the same collective operations in the
// same order. A transport failure during an exchange leaves the communicator
// unusable.
//
// Point-to-point row transfer (SendRows/RecvRows) relocates explicit row
// lists; Relocate and MoveBlock wrap it in a collective that notifies
// rank.Dependent hooks, such as TrackedRows.
package comm
