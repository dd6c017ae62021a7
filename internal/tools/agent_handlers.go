package tools

import (
	"context"
	"encoding/json"

	"github.com/apto-as/tmws/internal/model"
	"github.com/apto-as/tmws/internal/registry"
	"github.com/apto-as/tmws/internal/tmwserr"
)

// agentInfoResult is get_agent_info's/switch_agent's response shape.
type agentInfoResult struct {
	Agent model.Agent `json:"agent"`
}

func (r *Router) getAgentInfo(_ context.Context, call Call) (any, error) {
	return agentInfoResult{Agent: call.Principal}, nil
}

type switchAgentParams struct {
	Name string `json:"name"`
}

func (r *Router) switchAgent(_ context.Context, call Call) (any, error) {
	var p switchAgentParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, tmwserr.Validation("name is required")
	}
	a, err := r.reg.Switch(call.Session, p.Name)
	if err != nil {
		return nil, err
	}
	return agentInfoResult{Agent: a}, nil
}

type currentAgentResult struct {
	Agent   model.Agent         `json:"agent"`
	History []model.AgentSwitch `json:"history"`
}

func (r *Router) getCurrentAgent(_ context.Context, call Call) (any, error) {
	a, err := r.reg.Resolve(call.Session.CurrentAgentID)
	if err != nil {
		return nil, err
	}
	return currentAgentResult{Agent: a, History: call.Session.RecentHistory(5)}, nil
}

type executeAsAgentParams struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Params json.RawMessage `json:"params"`
}

func (r *Router) executeAsAgent(ctx context.Context, call Call) (any, error) {
	var p executeAsAgentParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" || p.Action == "" {
		return nil, tmwserr.Validation("name and action are required")
	}
	inner, ok := r.table[p.Action]
	if !ok {
		return nil, tmwserr.UnknownTool(p.Action)
	}

	var result any
	err := r.reg.ExecuteAs(call.Session, p.Name, func(agent model.Agent) error {
		var innerErr error
		result, innerErr = inner(ctx, Call{Session: call.Session, Principal: agent, Params: p.Params})
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type listAgentsParams struct {
	Namespace string          `json:"namespace"`
	AgentType model.AgentType `json:"agent_type"`
}

type listAgentsResult struct {
	Agents []model.Agent `json:"agents"`
}

func (r *Router) listTrinitasAgents(_ context.Context, call Call) (any, error) {
	var p listAgentsParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	agents := r.reg.List(registry.ListFilter{Namespace: p.Namespace, AgentType: p.AgentType})
	return listAgentsResult{Agents: agents}, nil
}

type registerAgentParams struct {
	AgentID      string          `json:"agent_id"`
	DisplayName  string          `json:"display_name"`
	AgentType    model.AgentType `json:"agent_type"`
	Namespace    string          `json:"namespace"`
	Capabilities map[string]any  `json:"capabilities"`
	AccessLevel  model.AccessLevel `json:"access_level"`
	Persist      bool            `json:"persist"`
}

func (r *Router) registerAgent(ctx context.Context, call Call) (any, error) {
	var p registerAgentParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	if !model.AtLeast(call.Principal.AccessLevel, "elevated") && p.Persist {
		return nil, tmwserr.Permission("persisting a new agent requires elevated access")
	}
	a, err := r.reg.Register(ctx, registry.AgentSpec{
		AgentID:      p.AgentID,
		DisplayName:  p.DisplayName,
		AgentType:    p.AgentType,
		Namespace:    p.Namespace,
		Capabilities: p.Capabilities,
		AccessLevel:  p.AccessLevel,
	}, p.Persist)
	if err != nil {
		return nil, err
	}
	return agentInfoResult{Agent: a}, nil
}

type unregisterAgentParams struct {
	Name string `json:"name"`
}

func (r *Router) unregisterAgent(ctx context.Context, call Call) (any, error) {
	var p unregisterAgentParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	a, err := r.reg.Resolve(p.Name)
	if err != nil {
		return nil, err
	}
	if err := r.reg.Unregister(ctx, a.AgentID); err != nil {
		return nil, err
	}
	return struct {
		Unregistered string `json:"unregistered"`
	}{Unregistered: a.AgentID}, nil
}

func (r *Router) listAgents(ctx context.Context, call Call) (any, error) {
	return r.listTrinitasAgents(ctx, call)
}

type agentStatisticsResult struct {
	AgentID         string  `json:"agent_id"`
	HealthScore     float64 `json:"health_score"`
	TotalMemories   int     `json:"total_memories"`
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
	SuccessRate     float64 `json:"success_rate"`
}

type agentStatisticsParams struct {
	Name string `json:"name"`
}

func (r *Router) getAgentStatistics(_ context.Context, call Call) (any, error) {
	var p agentStatisticsParams
	if err := unmarshalOrValidation(call.Params, &p); err != nil {
		return nil, err
	}
	target := call.Principal
	if p.Name != "" {
		a, err := r.reg.Resolve(p.Name)
		if err != nil {
			return nil, err
		}
		target = a
	}
	return agentStatisticsResult{
		AgentID:         target.AgentID,
		HealthScore:     target.HealthScore,
		TotalMemories:   target.TotalMemories,
		TotalTasks:      target.TotalTasks,
		SuccessfulTasks: target.SuccessfulTasks,
		SuccessRate:     target.SuccessRate(),
	}, nil
}
