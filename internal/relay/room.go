package relay

// Room holds the two participants of a call. The first member waits alone
// until the second arrives; a third join is refused.
type Room struct {
	// ID is the unique identifier for the room.
	ID string

	members [2]*Client
}

// Add places a client in the first free slot. It returns false when the
// room already has two members.
func (r *Room) Add(c *Client) bool {
	for i, m := range r.members {
		if m == nil {
			r.members[i] = c
			return true
		}
	}
	return false
}

// Remove clears the client's slot. It is a no-op when the client is not a
// member.
func (r *Room) Remove(c *Client) {
	for i, m := range r.members {
		if m == c {
			r.members[i] = nil
		}
	}
}

// Other returns the member that is not c, or nil when c is alone.
func (r *Room) Other(c *Client) *Client {
	for _, m := range r.members {
		if m != nil && m != c {
			return m
		}
	}
	return nil
}

// Full reports whether both slots are taken.
func (r *Room) Full() bool {
	return r.members[0] != nil && r.members[1] != nil
}

// Empty reports whether no members remain.
func (r *Room) Empty() bool {
	return r.members[0] == nil && r.members[1] == nil
}
