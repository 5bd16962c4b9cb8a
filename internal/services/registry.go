package services

import (
	"sync"

	"neuroconnect/internal/metrics"
)

// RoomMember 注册表中的连接
type RoomMember interface {
	ID() string
	PartyID() uint
	Deliver(f Frame) bool
}

// ConnectionRegistry 记录已认证连接及其加入的会话房间，可被任意连接并发读写
type ConnectionRegistry struct {
	mu          sync.RWMutex
	clients     map[string]RoomMember
	rooms       map[string]map[string]RoomMember // sessionID -> clientID -> member
	memberships map[string]map[string]struct{}   // clientID -> sessionIDs
}

// NewConnectionRegistry 创建连接注册表
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		clients:     make(map[string]RoomMember),
		rooms:       make(map[string]map[string]RoomMember),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register 登记一个已认证连接
func (r *ConnectionRegistry) Register(m RoomMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[m.ID()]; ok {
		return
	}
	r.clients[m.ID()] = m
	r.memberships[m.ID()] = make(map[string]struct{})
	metrics.WSConnections.Inc()
}

// Unregister 移除连接并退出其所在的全部房间，返回退出的房间
func (r *ConnectionRegistry) Unregister(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return nil
	}
	left := make([]string, 0, len(r.memberships[clientID]))
	for room := range r.memberships[clientID] {
		r.removeFromRoomLocked(room, clientID)
		left = append(left, room)
	}
	delete(r.memberships, clientID)
	delete(r.clients, clientID)
	metrics.WSConnections.Dec()
	return left
}

// Join 将连接加入房间；连接未登记时返回 false
func (r *ConnectionRegistry) Join(clientID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.clients[clientID]
	if !ok {
		return false
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]RoomMember)
		r.rooms[room] = members
		metrics.WSRooms.Inc()
	}
	members[clientID] = m
	r.memberships[clientID][room] = struct{}{}
	return true
}

// Leave 连接退出房间，返回此前是否在房间中
func (r *ConnectionRegistry) Leave(clientID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.memberships[clientID]
	if !ok {
		return false
	}
	if _, ok := rooms[room]; !ok {
		return false
	}
	delete(rooms, room)
	r.removeFromRoomLocked(room, clientID)
	return true
}

func (r *ConnectionRegistry) removeFromRoomLocked(room, clientID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.WSRooms.Dec()
	}
}

// InRoom 连接是否在房间中
func (r *ConnectionRegistry) InRoom(clientID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][clientID]
	return ok
}

// Members 房间成员快照，投递在锁外进行
func (r *ConnectionRegistry) Members(room string) []RoomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]RoomMember, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}

// ClientCount 当前连接数
func (r *ConnectionRegistry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// RoomCount 当前非空房间数
func (r *ConnectionRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
