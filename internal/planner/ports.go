package planner

// Ports reserved for the infrastructure of every generated solution.
var reservedPorts = []int{44300, 44301, 44302, 44303, 44304}

const basePort = 44305

// NextAvailablePort returns the lowest port from 44305 upward that is neither
// reserved nor excluded. When the range is exhausted it returns 44305.
func NextAvailablePort(excluding []int) int {
	used := make(map[int]struct{}, len(excluding)+len(reservedPorts))
	for _, p := range reservedPorts {
		used[p] = struct{}{}
	}
	for _, p := range excluding {
		used[p] = struct{}{}
	}
	for p := basePort; p <= MaxPort; p++ {
		if _, ok := used[p]; !ok {
			return p
		}
	}
	return basePort
}
