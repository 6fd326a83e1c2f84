package fencetime

// HoldsFence reports whether ft still references its underlying fence.
func HoldsFence(ft *FenceTime) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.fence != nil
}
