// 이 파일은 무효화 전파를 위한 의존성 그래프를 구현합니다.
package core

import "sync"

// =============================================================================
// DependencyGraph: 캐시 키 의존성 그래프
// =============================================================================
// 키가 무효화될 때 함께 무효화되어야 하는 키를 기록합니다.
// 전파는 정확히 한 홉입니다. 의존 키의 의존 키까지는 따라가지 않으므로
// 순환 등록이 있어도 무효화 폭주가 일어나지 않습니다.
// =============================================================================

// DependencyGraph는 키 간 무효화 의존성을 관리합니다.
type DependencyGraph struct {
	mu sync.RWMutex

	// dependents는 키 → 그 키에 의존하는 키 목록입니다.
	// "user:7"이 무효화되면 dependents["user:7"]도 무효화됩니다.
	dependents map[string][]string

	// dependencies는 역방향입니다. 키 → 그 키가 의존하는 키 목록.
	// Unregister 시 양방향 정리에 사용됩니다.
	dependencies map[string][]string
}

// NewDependencyGraph는 새로운 의존성 그래프를 생성합니다.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		dependents:   make(map[string][]string),
		dependencies: make(map[string][]string),
	}
}

// Register는 의존 관계를 등록합니다.
// key가 무효화되면 dependent도 무효화됩니다. 중복 등록은 무시됩니다.
func (g *DependencyGraph) Register(key, dependent string) {
	if key == "" || dependent == "" || key == dependent {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependents[key] = appendUnique(g.dependents[key], dependent)
	g.dependencies[dependent] = appendUnique(g.dependencies[dependent], key)
}

// Unregister는 의존 관계를 제거합니다.
func (g *DependencyGraph) Unregister(key, dependent string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dependents[key] = removeFromSlice(g.dependents[key], dependent)
	if len(g.dependents[key]) == 0 {
		delete(g.dependents, key)
	}

	g.dependencies[dependent] = removeFromSlice(g.dependencies[dependent], key)
	if len(g.dependencies[dependent]) == 0 {
		delete(g.dependencies, dependent)
	}
}

// RemoveKey는 키와 관련된 모든 의존 관계를 제거합니다.
func (g *DependencyGraph) RemoveKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, dep := range g.dependents[key] {
		g.dependencies[dep] = removeFromSlice(g.dependencies[dep], key)
		if len(g.dependencies[dep]) == 0 {
			delete(g.dependencies, dep)
		}
	}
	delete(g.dependents, key)

	for _, src := range g.dependencies[key] {
		g.dependents[src] = removeFromSlice(g.dependents[src], key)
		if len(g.dependents[src]) == 0 {
			delete(g.dependents, src)
		}
	}
	delete(g.dependencies, key)
}

// DependentsOf는 키에 직접 의존하는 키 목록을 반환합니다. (한 홉)
func (g *DependencyGraph) DependentsOf(key string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := g.dependents[key]
	if len(deps) == 0 {
		return nil
	}

	result := make([]string, len(deps))
	copy(result, deps)
	return result
}

// Len은 의존 관계가 등록된 키 수를 반환합니다.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.dependents)
}

// appendUnique는 중복 없이 슬라이스에 항목을 추가합니다.
func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}

// removeFromSlice는 슬라이스에서 항목을 제거합니다.
func removeFromSlice(slice []string, item string) []string {
	for i, s := range slice {
		if s == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
