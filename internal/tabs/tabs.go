// Package tabs tracks the ordered set of open files and the current one.
package tabs

// Manager is an ordered, duplicate-free list of open paths plus a current
// index. The index is -1 or a valid position in the list.
type Manager struct {
	paths   []string
	current int
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{current: -1}
}

// Tabs returns a copy of the open paths in order.
func (m *Manager) Tabs() []string {
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Len returns the number of open tabs.
func (m *Manager) Len() int { return len(m.paths) }

// CurrentIndex returns the current index or -1.
func (m *Manager) CurrentIndex() int { return m.current }

// Current returns the current path.
func (m *Manager) Current() (string, bool) {
	if m.current < 0 {
		return "", false
	}
	return m.paths[m.current], true
}

// Index returns the position of path, or -1.
func (m *Manager) Index(path string) int {
	for i, p := range m.paths {
		if p == path {
			return i
		}
	}
	return -1
}

// Contains reports whether path is open.
func (m *Manager) Contains(path string) bool {
	return m.Index(path) >= 0
}

// Open makes path current, appending it when it is not open yet.
func (m *Manager) Open(path string) {
	if cur, ok := m.Current(); ok && cur == path {
		return
	}
	idx := m.Index(path)
	if idx < 0 {
		m.paths = append(m.paths, path)
		idx = len(m.paths) - 1
	}
	m.current = idx
}

// Close removes path and returns the new current path ("" when none).
// Closing the current tab moves to the next one, or the previous one when it
// was last.
func (m *Manager) Close(path string) string {
	idx := m.Index(path)
	if idx < 0 {
		cur, _ := m.Current()
		return cur
	}

	var next string
	if idx == m.current {
		switch {
		case idx+1 < len(m.paths):
			next = m.paths[idx+1]
		case idx > 0:
			next = m.paths[idx-1]
		}
	} else if m.current >= 0 {
		next = m.paths[m.current]
	}

	m.paths = append(m.paths[:idx], m.paths[idx+1:]...)
	m.current = -1
	if next != "" {
		m.current = m.Index(next)
	}
	return next
}

// SetAll replaces the tab list, dropping duplicates in first-seen order. The
// previous current path stays current if it is still present.
func (m *Manager) SetAll(paths []string) {
	prev, hadCurrent := m.Current()

	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	m.paths = out

	m.current = -1
	if hadCurrent {
		m.current = m.Index(prev)
	}
}

// Rename replaces oldPath with newPath at the same position. A separate entry
// already holding newPath is dropped.
func (m *Manager) Rename(oldPath, newPath string) bool {
	idx := m.Index(oldPath)
	if idx < 0 || oldPath == newPath {
		return false
	}
	cur, hadCurrent := m.Current()
	if hadCurrent && cur == oldPath {
		cur = newPath
	}

	m.paths[idx] = newPath
	for i, p := range m.paths {
		if i != idx && p == newPath {
			m.paths = append(m.paths[:i], m.paths[i+1:]...)
			break
		}
	}

	m.current = -1
	if hadCurrent {
		m.current = m.Index(cur)
	}
	return true
}

// Clear closes every tab.
func (m *Manager) Clear() {
	m.paths = nil
	m.current = -1
}
