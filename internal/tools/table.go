package tools

import "github.com/apto-as/tmws/internal/model"

func stringToAccessLevel(s string) model.AccessLevel {
	if s == "" {
		return "standard"
	}
	return model.AccessLevel(s)
}

// buildTable assembles the static {name -> handler} dispatch table, the
// data-driven re-expression of the source's decorator-registered handlers
// spec.md §9 calls for.
func (r *Router) buildTable() Table {
	return Table{
		"get_agent_info":         r.getAgentInfo,
		"switch_agent":           r.switchAgent,
		"get_current_agent":      r.getCurrentAgent,
		"execute_as_agent":       r.executeAsAgent,
		"list_trinitas_agents":   r.listTrinitasAgents,
		"register_agent":         r.registerAgent,
		"unregister_agent":       r.unregisterAgent,
		"list_agents":            r.listAgents,
		"get_agent_statistics":   r.getAgentStatistics,
		"create_memory":          r.createMemory,
		"create_memories_batch":  r.createMemoriesBatch,
		"search_memories":        r.searchMemories,
		"share_memory":           r.shareMemory,
		"update_memory":          r.updateMemory,
		"delete_memory":          r.deleteMemory,
		"recall_memories":        r.recallMemories,
		"get_memory_history":     r.getMemoryHistory,
		"restore_version":        r.restoreVersion,
		"save_agent_profiles":    r.saveAgentProfiles,
		"load_agent_profiles":    r.loadAgentProfiles,
	}
}
