package ws

import (
	"sort"
)

// Registry maps channel rooms to the connections subscribed to them. It is
// not safe for concurrent use; the hub loop is its only caller.
type Registry struct {
	rooms   map[int64]map[*Client]struct{}
	clients map[*Client]map[int64]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[int64]map[*Client]struct{}),
		clients: make(map[*Client]map[int64]struct{}),
	}
}

// Add registers a connection with an empty room set. Returns false if it was already known.
func (r *Registry) Add(c *Client) bool {
	if _, ok := r.clients[c]; ok {
		return false
	}
	r.clients[c] = make(map[int64]struct{})
	return true
}

// Remove forgets a connection and all of its memberships, returning the rooms it was in.
func (r *Registry) Remove(c *Client) ([]int64, bool) {
	joined, ok := r.clients[c]
	if !ok {
		return nil, false
	}
	rooms := make([]int64, 0, len(joined))
	for room := range joined {
		r.dropMember(room, c)
		rooms = append(rooms, room)
	}
	delete(r.clients, c)
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, true
}

func (r *Registry) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Join adds c to room. Returns false if c is unknown or already a member.
func (r *Registry) Join(c *Client, room int64) bool {
	joined, ok := r.clients[c]
	if !ok {
		return false
	}
	if _, member := joined[room]; member {
		return false
	}
	joined[room] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	return true
}

// Leave removes c from room. Returns false if c was not a member.
func (r *Registry) Leave(c *Client, room int64) bool {
	joined, ok := r.clients[c]
	if !ok {
		return false
	}
	if _, member := joined[room]; !member {
		return false
	}
	delete(joined, room)
	r.dropMember(room, c)
	return true
}

// Members returns the connections in room ordered by connection age.
func (r *Registry) Members(room int64) []*Client {
	members := r.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	sortClients(out)
	return out
}

// Clients returns every registered connection ordered by connection age.
func (r *Registry) Clients() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	sortClients(out)
	return out
}

// RoomsOf returns the rooms c has joined, ascending.
func (r *Registry) RoomsOf(c *Client) []int64 {
	joined := r.clients[c]
	rooms := make([]int64, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

func (r *Registry) ClientCount() int {
	return len(r.clients)
}

func (r *Registry) RoomCount() int {
	return len(r.rooms)
}

func (r *Registry) dropMember(room int64, c *Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func sortClients(clients []*Client) {
	sort.Slice(clients, func(i, j int) bool { return clients[i].seq < clients[j].seq })
}
