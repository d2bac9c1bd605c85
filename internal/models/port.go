package models

import "time"

// PortAllocation binds one host port to one application
type PortAllocation struct {
	Port        int       `json:"port"`
	AppID       string    `json:"app_id"`
	AppName     string    `json:"app_name"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// PortRange is the inclusive range ports are allocated from
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether port lies inside the range
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Size returns the number of ports in the range
func (r PortRange) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}
